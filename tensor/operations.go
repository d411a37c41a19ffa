package tensor

import (
	"fmt"
	"math"
)

func checkShapesCompatible(op string, t1, t2 *Tensor) error {
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("%s: incompatible shapes %v and %v", op, t1.Shape, t2.Shape)
	}
	return nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkShapesCompatible("add", t1, t2); err != nil {
		return nil, err
	}
	result := t1.Clone()
	for i, v := range t2.Data {
		result.Data[i] += v
	}
	return result, nil
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkShapesCompatible("sub", t1, t2); err != nil {
		return nil, err
	}
	result := t1.Clone()
	for i, v := range t2.Data {
		result.Data[i] -= v
	}
	return result, nil
}

// Mul is the elementwise (Hadamard) product.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkShapesCompatible("mul", t1, t2); err != nil {
		return nil, err
	}
	result := t1.Clone()
	for i, v := range t2.Data {
		result.Data[i] *= v
	}
	return result, nil
}

func Scale(t *Tensor, s float32) *Tensor {
	result := t.Clone()
	for i := range result.Data {
		result.Data[i] *= s
	}
	return result
}

// AddScaledInPlace performs t += s·o.
func AddScaledInPlace(t, o *Tensor, s float32) error {
	if err := checkShapesCompatible("axpy", t, o); err != nil {
		return err
	}
	for i, v := range o.Data {
		t.Data[i] += s * v
	}
	return nil
}

func Exp(t *Tensor) *Tensor {
	result := t.Clone()
	for i, v := range result.Data {
		result.Data[i] = float32(math.Exp(float64(v)))
	}
	return result
}

// NormalizeRows scales every row of a 2D tensor to unit L2 norm in place.
// All-zero rows are left untouched.
func NormalizeRows(t *Tensor) error {
	if err := require2D("normalize", t); err != nil {
		return err
	}
	for i := 0; i < t.Shape[0]; i++ {
		NormalizeVec(t.Row(i))
	}
	return nil
}

func NormalizeVec(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// Softmax applies a numerically stable softmax to each row.
func Softmax(logits *Tensor) (*Tensor, error) {
	if err := require2D("softmax", logits); err != nil {
		return nil, err
	}

	result := logits.Clone()
	for i := 0; i < result.Shape[0]; i++ {
		row := result.Row(i)

		// Find max for numerical stability
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		var sum float32
		for j, v := range row {
			e := float32(math.Exp(float64(v - maxVal)))
			row[j] = e
			sum += e
		}
		for j := range row {
			row[j] /= sum
		}
	}
	return result, nil
}
