package tensor

import (
	"fmt"
)

func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := require2D("matmul", t1, t2); err != nil {
		return nil, err
	}

	rows1, cols1 := t1.Shape[0], t1.Shape[1]
	rows2, cols2 := t2.Shape[0], t2.Shape[1]
	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	result, err := Zeros([]int{rows1, cols2})
	if err != nil {
		return nil, err
	}

	a, b, out := t1.Data, t2.Data, result.Data
	for i := 0; i < rows1; i++ {
		outRow := out[i*cols2 : (i+1)*cols2]
		for k := 0; k < cols1; k++ {
			aik := a[i*cols1+k]
			if aik == 0 {
				continue
			}
			bRow := b[k*cols2 : (k+1)*cols2]
			for j, v := range bRow {
				outRow[j] += aik * v
			}
		}
	}
	return result, nil
}

// MatMulTransB computes t1 · t2ᵀ without materialising the transpose. This is
// the shape of a linear layer forward pass: x[B,in] · W[out,in]ᵀ.
func MatMulTransB(t1, t2 *Tensor) (*Tensor, error) {
	if err := require2D("matmul", t1, t2); err != nil {
		return nil, err
	}

	rows1, cols1 := t1.Shape[0], t1.Shape[1]
	rows2, cols2 := t2.Shape[0], t2.Shape[1]
	if cols1 != cols2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)ᵀ", rows1, cols1, rows2, cols2)
	}

	result, err := Zeros([]int{rows1, rows2})
	if err != nil {
		return nil, err
	}

	for i := 0; i < rows1; i++ {
		a := t1.Data[i*cols1 : (i+1)*cols1]
		for j := 0; j < rows2; j++ {
			b := t2.Data[j*cols2 : (j+1)*cols2]
			var sum float32
			for k := range a {
				sum += a[k] * b[k]
			}
			result.Data[i*rows2+j] = sum
		}
	}
	return result, nil
}

// MatMulTransA computes t1ᵀ · t2. Used for weight gradients: gradᵀ[out,B] · x[B,in].
func MatMulTransA(t1, t2 *Tensor) (*Tensor, error) {
	if err := require2D("matmul", t1, t2); err != nil {
		return nil, err
	}

	rows1, cols1 := t1.Shape[0], t1.Shape[1]
	rows2, cols2 := t2.Shape[0], t2.Shape[1]
	if rows1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d)ᵀ x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	result, err := Zeros([]int{cols1, cols2})
	if err != nil {
		return nil, err
	}

	for r := 0; r < rows1; r++ {
		a := t1.Data[r*cols1 : (r+1)*cols1]
		b := t2.Data[r*cols2 : (r+1)*cols2]
		for i, ai := range a {
			if ai == 0 {
				continue
			}
			out := result.Data[i*cols2 : (i+1)*cols2]
			for j, bj := range b {
				out[j] += ai * bj
			}
		}
	}
	return result, nil
}

func Transpose(t *Tensor) (*Tensor, error) {
	if err := require2D("transpose", t); err != nil {
		return nil, err
	}

	rows, cols := t.Shape[0], t.Shape[1]
	result, err := Zeros([]int{cols, rows})
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result.Data[j*rows+i] = t.Data[i*cols+j]
		}
	}
	return result, nil
}

func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}

	newNumElems := calculateNumElements(newShape)
	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)",
			t.NumElems, newShape, newNumElems)
	}

	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return NewTensor(newShape, data)
}

// ArgMax returns the index of the largest value in each row. Ties resolve to
// the lowest index.
func ArgMax(t *Tensor) ([]int, error) {
	if err := require2D("argmax", t); err != nil {
		return nil, err
	}

	out := make([]int, t.Shape[0])
	for i := range out {
		row := t.Row(i)
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out, nil
}
