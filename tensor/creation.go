package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// NewTensor wraps data in a tensor of the given shape. A nil data slice
// allocates zeroed storage; otherwise data is used without copying.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	s := make([]int, len(shape))
	copy(s, shape)

	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		Data:     data,
		NumElems: numElems,
	}, nil
}

func Zeros(shape []int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

func Full(shape []int, value float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// RandomNormal draws from N(mean, std²) using rng so results are reproducible
// for a fixed seed.
func RandomNormal(shape []int, mean, std float32, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())*std + mean
	}
	return t, nil
}

// KaimingUniform initialises a [out, in] weight the way a default linear
// layer does: U(-1/sqrt(in), 1/sqrt(in)).
func KaimingUniform(out, in int, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros([]int{out, in})
	if err != nil {
		return nil, err
	}
	bound := float32(1 / math.Sqrt(float64(in)))
	for i := range t.Data {
		t.Data[i] = (rng.Float32()*2 - 1) * bound
	}
	return t, nil
}

// FromRows stacks equally sized rows into a [len(rows), width] tensor.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot build tensor from zero rows")
	}
	width := len(rows[0])
	data := make([]float32, 0, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(r), width)
		}
		data = append(data, r...)
	}
	return NewTensor([]int{len(rows), width}, data)
}

// OneHot encodes labels as a [len(labels), classes] matrix.
func OneHot(labels []int, classes int) (*Tensor, error) {
	t, err := Zeros([]int{len(labels), classes})
	if err != nil {
		return nil, err
	}
	for i, l := range labels {
		if l < 0 || l >= classes {
			return nil, fmt.Errorf("label %d at index %d out of range [0, %d)", l, i, classes)
		}
		t.Data[i*classes+l] = 1
	}
	return t, nil
}
