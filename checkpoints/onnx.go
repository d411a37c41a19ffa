package checkpoints

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// TensorProto field numbers and the FLOAT data type from onnx.proto.
const (
	tensorFieldDims      protowire.Number = 1
	tensorFieldDataType  protowire.Number = 2
	tensorFieldFloatData protowire.Number = 4
	tensorFieldName      protowire.Number = 8
	tensorFieldRawData   protowire.Number = 9
	tensorFieldDocString protowire.Number = 12

	tensorDataTypeFloat = 1
)

// marshalTensorProto writes the weight as a TensorProto with packed
// float_data. The metadata travels as JSON in doc_string.
func marshalTensorProto(c *Checkpoint) ([]byte, error) {
	doc, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, err
	}

	var b []byte

	var dims []byte
	for _, d := range c.Weight.Shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}
	b = protowire.AppendTag(b, tensorFieldDims, protowire.BytesType)
	b = protowire.AppendBytes(b, dims)

	b = protowire.AppendTag(b, tensorFieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, tensorDataTypeFloat)

	floats := make([]byte, 0, 4*len(c.Weight.Data))
	for _, v := range c.Weight.Data {
		floats = protowire.AppendFixed32(floats, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, tensorFieldFloatData, protowire.BytesType)
	b = protowire.AppendBytes(b, floats)

	b = protowire.AppendTag(b, tensorFieldName, protowire.BytesType)
	b = protowire.AppendString(b, c.Weight.Name)

	b = protowire.AppendTag(b, tensorFieldDocString, protowire.BytesType)
	b = protowire.AppendBytes(b, doc)

	return b, nil
}

// unmarshalTensorProto reads a FLOAT TensorProto. Both packed and unpacked
// repeated fields are accepted, as is raw_data in little-endian order.
func unmarshalTensorProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	dataType := uint64(0)
	var raw []byte

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == tensorFieldDims && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			c.Weight.Shape = append(c.Weight.Shape, int(int64(v)))
			b = b[n:]

		case num == tensorFieldDims && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return nil, protowire.ParseError(m)
				}
				c.Weight.Shape = append(c.Weight.Shape, int(int64(v)))
				packed = packed[m:]
			}
			b = b[n:]

		case num == tensorFieldDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dataType = v
			b = b[n:]

		case num == tensorFieldFloatData && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			c.Weight.Data = append(c.Weight.Data, math.Float32frombits(v))
			b = b[n:]

		case num == tensorFieldFloatData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if len(packed)%4 != 0 {
				return nil, fmt.Errorf("float_data has %d bytes, not a multiple of 4", len(packed))
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return nil, protowire.ParseError(m)
				}
				c.Weight.Data = append(c.Weight.Data, math.Float32frombits(v))
				packed = packed[m:]
			}
			b = b[n:]

		case num == tensorFieldName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			c.Weight.Name = s
			b = b[n:]

		case num == tensorFieldRawData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			raw = v
			b = b[n:]

		case num == tensorFieldDocString && typ == protowire.BytesType:
			doc, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if len(doc) > 0 {
				if err := json.Unmarshal(doc, &c.Metadata); err != nil {
					return nil, fmt.Errorf("invalid doc_string metadata: %w", err)
				}
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}

	if dataType != tensorDataTypeFloat {
		return nil, fmt.Errorf("unsupported tensor data type %d, expected FLOAT", dataType)
	}
	if raw != nil && len(c.Weight.Data) == 0 {
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("raw_data has %d bytes, not a multiple of 4", len(raw))
		}
		c.Weight.Data = make([]float32, len(raw)/4)
		for i := range c.Weight.Data {
			c.Weight.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}
	return c, nil
}
