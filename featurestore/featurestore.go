// Package featurestore persists fused feature matrices and their labels as
// Arrow IPC streams, so a run can skip re-encoding the cache or the
// validation split.
package featurestore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tsawler/go-tipadapter/blobstore"
	"github.com/tsawler/go-tipadapter/tensor"
)

// Column names of the stored schema.
const (
	ColumnLabel   = "label"
	ColumnFeature = "feature"
)

// Set is an [N, D] feature matrix with one label per row.
type Set struct {
	Features *tensor.Tensor
	Labels   []int
}

// Len returns the number of rows.
func (s Set) Len() int { return len(s.Labels) }

// Validate checks that features are 2-D with one row per label.
func (s Set) Validate() error {
	if s.Features == nil || len(s.Features.Shape) != 2 {
		return fmt.Errorf("features must be a 2-D tensor")
	}
	if s.Features.Shape[0] != len(s.Labels) {
		return fmt.Errorf("features have %d rows but %d labels", s.Features.Shape[0], len(s.Labels))
	}
	return nil
}

func schemaFor(dim int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: ColumnLabel, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColumnFeature, Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// Write encodes set as a single-record Arrow IPC stream.
func Write(w io.Writer, set Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	mem := memory.NewGoAllocator()
	dim := set.Features.Shape[1]
	schema := schemaFor(dim)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	labelBuilder := b.Field(0).(*array.Int32Builder)
	vecBuilder := b.Field(1).(*array.FixedSizeListBuilder)
	vecValBuilder := vecBuilder.ValueBuilder().(*array.Float32Builder)

	for i, label := range set.Labels {
		labelBuilder.Append(int32(label))
		vecBuilder.Append(true)
		vecValBuilder.AppendValues(set.Features.Row(i), nil)
	}

	rec := b.NewRecord()
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write feature record: %w", err)
	}
	return writer.Close()
}

// Read decodes a stream written by Write. Multiple record batches are
// concatenated in order.
func Read(r io.Reader) (Set, error) {
	mem := memory.NewGoAllocator()
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return Set{}, fmt.Errorf("failed to open feature stream: %w", err)
	}
	defer reader.Release()

	schema := reader.Schema()
	if schema.NumFields() != 2 || schema.Field(0).Name != ColumnLabel || schema.Field(1).Name != ColumnFeature {
		return Set{}, fmt.Errorf("unexpected feature schema: %s", schema)
	}
	listType, ok := schema.Field(1).Type.(*arrow.FixedSizeListType)
	if !ok {
		return Set{}, fmt.Errorf("feature column has type %s, expected fixed size list", schema.Field(1).Type)
	}
	dim := int(listType.Len())

	var (
		labels []int
		data   []float32
	)
	for reader.Next() {
		rec := reader.Record()
		labelCol, ok := rec.Column(0).(*array.Int32)
		if !ok {
			return Set{}, fmt.Errorf("label column has type %s", rec.Column(0).DataType())
		}
		vecCol := rec.Column(1).(*array.FixedSizeList)
		values, ok := vecCol.ListValues().(*array.Float32)
		if !ok {
			return Set{}, fmt.Errorf("feature values have type %s", vecCol.ListValues().DataType())
		}

		rows := int(rec.NumRows())
		for i := 0; i < rows; i++ {
			labels = append(labels, int(labelCol.Value(i)))
			start, end := vecCol.ValueOffsets(i)
			if int(end-start) != dim {
				return Set{}, fmt.Errorf("row %d has %d values, expected %d", len(labels)-1, end-start, dim)
			}
			data = append(data, values.Float32Values()[start:end]...)
		}
	}
	if err := reader.Err(); err != nil {
		return Set{}, fmt.Errorf("failed to read feature stream: %w", err)
	}
	if len(labels) == 0 {
		return Set{}, fmt.Errorf("feature stream is empty")
	}

	features, err := tensor.NewTensor([]int{len(labels), dim}, data)
	if err != nil {
		return Set{}, err
	}
	return Set{Features: features, Labels: labels}, nil
}

// Save writes set to name in store.
func Save(ctx context.Context, store blobstore.Store, name string, set Set) error {
	var buf bytes.Buffer
	if err := Write(&buf, set); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return store.Put(ctx, name, buf.Bytes())
}

// Load reads the set stored under name. A missing blob yields an error
// satisfying errors.Is(err, blobstore.ErrNotFound).
func Load(ctx context.Context, store blobstore.Store, name string) (Set, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return Set{}, err
	}
	set, err := Read(bytes.NewReader(data))
	if err != nil {
		return Set{}, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return set, nil
}

// CacheName is the blob holding the few-shot cache features.
func CacheName(shots int) string {
	return fmt.Sprintf("cache_%dshots.arrow", shots)
}

// SplitName is the blob holding pre-extracted features of a split.
func SplitName(split string) string {
	return fmt.Sprintf("%s_features.arrow", split)
}
