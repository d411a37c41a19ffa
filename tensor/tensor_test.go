package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewTensor(t *testing.T) {
	tensor, err := NewTensor([]int{2, 3}, nil)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	if tensor.NumElems != 6 {
		t.Errorf("expected 6 elements, got %d", tensor.NumElems)
	}
	if tensor.Strides[0] != 3 || tensor.Strides[1] != 1 {
		t.Errorf("unexpected strides %v", tensor.Strides)
	}

	if _, err := NewTensor([]int{2, 0}, nil); err == nil {
		t.Error("expected error for zero dimension")
	}
	if _, err := NewTensor([]int{2, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for data length mismatch")
	}
}

func TestMatMulVariants(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b, _ := NewTensor([]int{3, 2}, []float32{7, 8, 9, 10, 11, 12})

	c, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	expected := []float32{58, 64, 139, 154}
	for i, v := range expected {
		if c.Data[i] != v {
			t.Errorf("MatMul[%d]: expected %f, got %f", i, v, c.Data[i])
		}
	}

	bt, _ := Transpose(b)
	c2, err := MatMulTransB(a, bt)
	if err != nil {
		t.Fatalf("MatMulTransB failed: %v", err)
	}
	for i, v := range expected {
		if c2.Data[i] != v {
			t.Errorf("MatMulTransB[%d]: expected %f, got %f", i, v, c2.Data[i])
		}
	}

	at, _ := Transpose(a)
	c3, err := MatMulTransA(at, b)
	if err != nil {
		t.Fatalf("MatMulTransA failed: %v", err)
	}
	for i, v := range expected {
		if c3.Data[i] != v {
			t.Errorf("MatMulTransA[%d]: expected %f, got %f", i, v, c3.Data[i])
		}
	}

	if _, err := MatMul(a, a); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestTranspose(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	at, err := Transpose(a)
	if err != nil {
		t.Fatalf("Transpose failed: %v", err)
	}
	if at.Shape[0] != 3 || at.Shape[1] != 2 {
		t.Fatalf("unexpected shape %v", at.Shape)
	}
	if at.At(2, 1) != 6 || at.At(0, 1) != 4 {
		t.Errorf("unexpected transpose contents %v", at.Data)
	}
}

func TestArgMax(t *testing.T) {
	logits, _ := NewTensor([]int{3, 2}, []float32{2, 1, 0.5, 3, 1, 1})
	got, err := ArgMax(logits)
	if err != nil {
		t.Fatalf("ArgMax failed: %v", err)
	}
	want := []int{0, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	logits, _ := NewTensor([]int{2, 3}, []float32{1, 2, 3, 1000, 1000, 1000})
	probs, err := Softmax(logits)
	if err != nil {
		t.Fatalf("Softmax failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		var sum float32
		for _, v := range probs.Row(i) {
			sum += v
		}
		if math.Abs(float64(sum-1)) > 1e-6 {
			t.Errorf("row %d sums to %f", i, sum)
		}
	}
}

func TestNormalizeRows(t *testing.T) {
	m, _ := NewTensor([]int{2, 2}, []float32{3, 4, 0, 0})
	if err := NormalizeRows(m); err != nil {
		t.Fatalf("NormalizeRows failed: %v", err)
	}
	if math.Abs(float64(m.Data[0]-0.6)) > 1e-6 || math.Abs(float64(m.Data[1]-0.8)) > 1e-6 {
		t.Errorf("unexpected normalised row %v", m.Row(0))
	}
	if m.Data[2] != 0 || m.Data[3] != 0 {
		t.Errorf("zero row should stay zero, got %v", m.Row(1))
	}
}

func TestOneHot(t *testing.T) {
	oh, err := OneHot([]int{1, 0, 1}, 2)
	if err != nil {
		t.Fatalf("OneHot failed: %v", err)
	}
	want := []float32{0, 1, 1, 0, 0, 1}
	for i, v := range want {
		if oh.Data[i] != v {
			t.Errorf("OneHot[%d]: expected %f, got %f", i, v, oh.Data[i])
		}
	}
	if _, err := OneHot([]int{2}, 2); err == nil {
		t.Error("expected out of range error")
	}
}

func TestSeededInitIsReproducible(t *testing.T) {
	a, _ := KaimingUniform(2, 8, rand.New(rand.NewSource(1)))
	b, _ := KaimingUniform(2, 8, rand.New(rand.NewSource(1)))
	bound := float32(1 / math.Sqrt(8))
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("init differs at %d with same seed", i)
		}
		if a.Data[i] < -bound || a.Data[i] > bound {
			t.Errorf("value %f outside [-%f, %f]", a.Data[i], bound, bound)
		}
	}
}

func TestElementwise(t *testing.T) {
	a, _ := NewTensor([]int{1, 3}, []float32{1, 2, 3})
	b, _ := NewTensor([]int{1, 3}, []float32{4, 5, 6})

	sum, _ := Add(a, b)
	diff, _ := Sub(b, a)
	prod, _ := Mul(a, b)
	if sum.Data[2] != 9 || diff.Data[0] != 3 || prod.Data[1] != 10 {
		t.Errorf("unexpected elementwise results %v %v %v", sum.Data, diff.Data, prod.Data)
	}

	if err := AddScaledInPlace(a, b, -1); err != nil {
		t.Fatalf("AddScaledInPlace failed: %v", err)
	}
	if a.Data[0] != -3 {
		t.Errorf("expected -3, got %f", a.Data[0])
	}

	e := Exp(Scale(a, 0))
	for _, v := range e.Data {
		if v != 1 {
			t.Errorf("exp(0) should be 1, got %f", v)
		}
	}
}
