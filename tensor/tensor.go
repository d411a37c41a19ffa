package tensor

import (
	"fmt"
)

// Tensor is a dense, row-major float32 tensor living in host memory.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

// Rows returns the size of the first dimension of a 2D tensor.
func (t *Tensor) Rows() int {
	return t.Shape[0]
}

// Cols returns the size of the last dimension.
func (t *Tensor) Cols() int {
	return t.Shape[len(t.Shape)-1]
}

func (t *Tensor) At(i, j int) float32 {
	return t.Data[i*t.Strides[0]+j]
}

func (t *Tensor) Set(i, j int, v float32) {
	t.Data[i*t.Strides[0]+j] = v
}

// Row returns a view of row i of a 2D tensor. Writes go through to t.
func (t *Tensor) Row(i int) []float32 {
	cols := t.Cols()
	return t.Data[i*cols : (i+1)*cols]
}

func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return shapesEqual(t.Shape, o.Shape)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: no dimensions")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

func require2D(op string, ts ...*Tensor) error {
	for _, t := range ts {
		if len(t.Shape) != 2 {
			return fmt.Errorf("%s requires 2D tensors, got shape %v", op, t.Shape)
		}
	}
	return nil
}
