// Package checkpoints persists the best adapter weight of a run.
//
// The payload is an ONNX TensorProto, so checkpoints can be inspected with
// standard ONNX tooling or loaded as an initializer.
package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tsawler/go-tipadapter/tensor"
)

// ErrNoCheckpoint is returned when no best checkpoint has been written.
var ErrNoCheckpoint = errors.New("no checkpoint")

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatONNX CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatONNX:
		return "ONNX"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// Checkpoint is a single weight tensor and the training state it was
// captured at.
type Checkpoint struct {
	Weight   WeightTensor       `json:"weight"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// CheckpointMetadata records where in training the weight was captured.
type CheckpointMetadata struct {
	Framework string    `json:"framework"`
	Version   string    `json:"version"`
	Epoch     int       `json:"epoch"`
	Accuracy  float64   `json:"accuracy"`
	Shots     int       `json:"shots"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCheckpoint captures t under name. The data is copied.
func NewCheckpoint(name string, t *tensor.Tensor, meta CheckpointMetadata) *Checkpoint {
	if meta.Framework == "" {
		meta.Framework = "go-tipadapter"
		meta.Version = "1.0.0"
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	return &Checkpoint{
		Weight: WeightTensor{
			Name:  name,
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float32(nil), t.Data...),
		},
		Metadata: meta,
	}
}

// Tensor returns the weight as a tensor.
func (c *Checkpoint) Tensor() (*tensor.Tensor, error) {
	return tensor.NewTensor(c.Weight.Shape, append([]float32(nil), c.Weight.Data...))
}

// Marshal encodes a checkpoint in the given format.
func Marshal(format CheckpointFormat, c *Checkpoint) ([]byte, error) {
	switch format {
	case FormatONNX:
		return marshalTensorProto(c)
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", format.String())
	}
}

// Unmarshal decodes a checkpoint in the given format.
func Unmarshal(format CheckpointFormat, data []byte) (*Checkpoint, error) {
	var (
		c   *Checkpoint
		err error
	)
	switch format {
	case FormatONNX:
		c, err = unmarshalTensorProto(data)
	case FormatJSON:
		c = &Checkpoint{}
		err = json.Unmarshal(data, c)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", format.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s checkpoint: %w", format, err)
	}

	n := 1
	for _, d := range c.Weight.Shape {
		n *= d
	}
	if len(c.Weight.Shape) == 0 || n != len(c.Weight.Data) {
		return nil, fmt.Errorf("checkpoint %q has shape %v but %d values", c.Weight.Name, c.Weight.Shape, len(c.Weight.Data))
	}
	return c, nil
}
