package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-tipadapter/tensor"
)

func TestAccuracy(t *testing.T) {
	logits, _ := tensor.NewTensor([]int{2, 2}, []float32{2, 1, 0.5, 3})

	tests := []struct {
		labels   []int
		expected float64
	}{
		{[]int{0, 1}, 100},
		{[]int{1, 0}, 0},
		{[]int{0, 0}, 50},
	}

	for _, tt := range tests {
		acc, err := Accuracy(logits, tt.labels)
		if err != nil {
			t.Fatalf("Accuracy(%v): %v", tt.labels, err)
		}
		if acc != tt.expected {
			t.Errorf("Accuracy(%v) = %f, expected %f", tt.labels, acc, tt.expected)
		}
	}

	if _, err := Accuracy(logits, []int{1}); err == nil {
		t.Error("Expected error for label count mismatch")
	}
	empty, _ := tensor.Zeros([]int{0, 2})
	if _, err := Accuracy(empty, nil); err == nil {
		t.Error("Expected error for empty set")
	}
}

// TestMetricTypeString tests the string representation of MetricType
func TestMetricTypeString(t *testing.T) {
	tests := []struct {
		metric   MetricType
		expected string
	}{
		{Precision, "Precision"},
		{Recall, "Recall"},
		{F1Score, "F1Score"},
		{Specificity, "Specificity"},
		{NPV, "NPV"},
		{MacroF1, "MacroF1"},
		{MetricType(999), "Unknown(999)"},
	}

	for _, test := range tests {
		result := test.metric.String()
		if result != test.expected {
			t.Errorf("MetricType(%d).String() = %s, expected %s", test.metric, result, test.expected)
		}
	}
}

func TestConfusionMatrixBinary(t *testing.T) {
	cm := NewConfusionMatrix(2)

	// Predictions: 1, 1, 0, 0, 1
	logits, _ := tensor.NewTensor([]int{5, 2}, []float32{
		0, 1,
		0, 1,
		1, 0,
		1, 0,
		0, 1,
	})
	// TP=2 (rows 0,1), FN=1 (row 2), TN=1 (row 3), FP=1 (row 4)
	if err := cm.Update(logits, []int{1, 1, 1, 0, 0}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	checks := []struct {
		metric   MetricType
		expected float64
	}{
		{Precision, 2.0 / 3.0},
		{Recall, 2.0 / 3.0},
		{F1Score, 2.0 / 3.0},
		{Specificity, 0.5},
		{NPV, 0.5},
	}
	for _, c := range checks {
		if got := cm.GetMetric(c.metric); math.Abs(got-c.expected) > 1e-9 {
			t.Errorf("%s = %f, expected %f", c.metric, got, c.expected)
		}
	}
	if acc := cm.GetAccuracy(); math.Abs(acc-0.6) > 1e-9 {
		t.Errorf("Accuracy = %f, expected 0.6", acc)
	}
	if f1 := cm.GetMetric(MacroF1); math.Abs(f1-(2.0/3.0+0.5)/2) > 1e-9 {
		t.Errorf("MacroF1 = %f", f1)
	}

	cm.Reset()
	if cm.TotalSamples != 0 || cm.GetAccuracy() != 0 {
		t.Error("Reset did not clear the matrix")
	}
}

func TestConfusionMatrixRejectsBadInput(t *testing.T) {
	cm := NewConfusionMatrix(2)
	logits, _ := tensor.NewTensor([]int{1, 3}, []float32{0, 1, 2})
	if err := cm.Update(logits, []int{0}); err == nil {
		t.Error("Expected error for class count mismatch")
	}
	logits, _ = tensor.NewTensor([]int{1, 2}, []float32{0, 1})
	if err := cm.Update(logits, []int{2}); err == nil {
		t.Error("Expected error for out of range label")
	}
}

func TestCalculateAUCROC(t *testing.T) {
	perfect := CalculateAUCROC([]float32{0.9, 0.8, 0.2, 0.1}, []int{1, 1, 0, 0})
	if math.Abs(perfect-1) > 1e-9 {
		t.Errorf("Perfect ranking AUC = %f, expected 1", perfect)
	}
	inverted := CalculateAUCROC([]float32{0.1, 0.2, 0.8, 0.9}, []int{1, 1, 0, 0})
	if math.Abs(inverted) > 1e-9 {
		t.Errorf("Inverted ranking AUC = %f, expected 0", inverted)
	}
	if auc := CalculateAUCROC([]float32{0.5}, []int{1}); auc != 0 {
		t.Errorf("Single class AUC = %f, expected 0", auc)
	}
}

func TestPositiveScores(t *testing.T) {
	logits, _ := tensor.NewTensor([]int{2, 2}, []float32{0, 0, 0, 100})
	scores, err := PositiveScores(logits)
	if err != nil {
		t.Fatalf("PositiveScores: %v", err)
	}
	if math.Abs(float64(scores[0])-0.5) > 1e-6 || scores[1] < 0.99 {
		t.Errorf("unexpected scores %v", scores)
	}
}
