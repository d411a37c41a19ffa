package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-tipadapter/tensor"
)

func TestCrossEntropyLoss(t *testing.T) {
	t.Run("Uniform logits", func(t *testing.T) {
		predicted, err := tensor.NewTensor([]int{2, 2}, []float32{0, 0, 1, 1})
		if err != nil {
			t.Fatalf("Failed to create predicted tensor: %v", err)
		}

		ce := NewCrossEntropyLoss("mean")
		loss, err := ce.Forward(predicted, []int{0, 1})
		if err != nil {
			t.Fatalf("Cross entropy forward failed: %v", err)
		}

		// Both rows give p=0.5 for the target: loss = ln 2
		if math.Abs(loss-math.Ln2) > 1e-6 {
			t.Errorf("Expected loss %.6f, got %.6f", math.Ln2, loss)
		}
	})

	t.Run("Sum reduction", func(t *testing.T) {
		predicted, _ := tensor.NewTensor([]int{2, 2}, []float32{0, 0, 1, 1})
		loss, err := NewCrossEntropyLoss("sum").Forward(predicted, []int{0, 1})
		if err != nil {
			t.Fatalf("Cross entropy forward failed: %v", err)
		}
		if math.Abs(loss-2*math.Ln2) > 1e-6 {
			t.Errorf("Expected loss %.6f, got %.6f", 2*math.Ln2, loss)
		}
	})

	t.Run("Backward pass", func(t *testing.T) {
		predicted, _ := tensor.NewTensor([]int{2, 2}, []float32{0, 0, 2, 0})

		grad, err := NewCrossEntropyLoss("mean").Backward(predicted, []int{1, 0})
		if err != nil {
			t.Fatalf("Cross entropy backward failed: %v", err)
		}

		p := float32(math.Exp(2) / (math.Exp(2) + 1))
		expectedGrad := []float32{0.25, -0.25, (p - 1) / 2, (1 - p) / 2}
		for i, expected := range expectedGrad {
			if math.Abs(float64(grad.Data[i]-expected)) > 1e-6 {
				t.Errorf("Gradient[%d]: expected %.6f, got %.6f", i, expected, grad.Data[i])
			}
		}
	})

	t.Run("Invalid targets", func(t *testing.T) {
		predicted, _ := tensor.NewTensor([]int{1, 2}, []float32{0, 0})
		ce := NewCrossEntropyLoss("")
		if _, err := ce.Forward(predicted, []int{2}); err == nil {
			t.Error("Expected error for out of range target")
		}
		if _, err := ce.Backward(predicted, []int{0, 1}); err == nil {
			t.Error("Expected error for batch size mismatch")
		}
	})
}
