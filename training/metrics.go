package training

import (
	"fmt"
	"sort"

	"github.com/tsawler/go-tipadapter/tensor"
)

// Accuracy returns the percentage (0-100) of rows whose highest logit is
// the label.
func Accuracy(logits *tensor.Tensor, labels []int) (float64, error) {
	correct, err := countCorrect(logits, labels)
	if err != nil {
		return 0, err
	}
	return 100 * float64(correct) / float64(len(labels)), nil
}

func countCorrect(logits *tensor.Tensor, labels []int) (int, error) {
	if len(labels) == 0 {
		return 0, fmt.Errorf("accuracy of an empty set is undefined")
	}
	preds, err := tensor.ArgMax(logits)
	if err != nil {
		return 0, err
	}
	if len(preds) != len(labels) {
		return 0, fmt.Errorf("batch size mismatch: logits %d, labels %d", len(preds), len(labels))
	}
	correct := 0
	for i, p := range preds {
		if p == labels[i] {
			correct++
		}
	}
	return correct, nil
}

// MetricType represents different evaluation metrics
type MetricType int

const (
	// Binary Classification Metrics, class 1 ("yes") is positive
	Precision MetricType = iota
	Recall
	F1Score
	Specificity
	NPV // Negative Predictive Value

	MacroF1
)

func (mt MetricType) String() string {
	switch mt {
	case Precision:
		return "Precision"
	case Recall:
		return "Recall"
	case F1Score:
		return "F1Score"
	case Specificity:
		return "Specificity"
	case NPV:
		return "NPV"
	case MacroF1:
		return "MacroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds the argmax predictions of logits against labels.
func (cm *ConfusionMatrix) Update(logits *tensor.Tensor, labels []int) error {
	if len(logits.Shape) != 2 || logits.Shape[1] != cm.NumClasses {
		return fmt.Errorf("expected logits of shape [B, %d], got %v", cm.NumClasses, logits.Shape)
	}
	preds, err := tensor.ArgMax(logits)
	if err != nil {
		return err
	}
	if len(preds) != len(labels) {
		return fmt.Errorf("labels length mismatch: expected %d, got %d", len(preds), len(labels))
	}

	for i, pred := range preds {
		trueClass := labels[i]
		if trueClass < 0 || trueClass >= cm.NumClasses {
			return fmt.Errorf("label %d out of range [0, %d)", trueClass, cm.NumClasses)
		}
		cm.Matrix[trueClass][pred]++
		cm.TotalSamples++
	}
	return nil
}

// GetMetric calculates an evaluation metric. Binary metrics return 0 for
// matrices with more than two classes.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case Precision:
		return cm.binaryRatio(1, 1, 0, 1)
	case Recall:
		return cm.binaryRatio(1, 1, 1, 0)
	case F1Score:
		return harmonic(cm.GetMetric(Precision), cm.GetMetric(Recall))
	case Specificity:
		return cm.binaryRatio(0, 0, 0, 1)
	case NPV:
		return cm.binaryRatio(0, 0, 1, 0)
	case MacroF1:
		return cm.macroF1()
	default:
		return 0.0
	}
}

// binaryRatio returns M[a][b] / (M[a][b] + M[c][d]).
func (cm *ConfusionMatrix) binaryRatio(a, b, c, d int) float64 {
	if cm.NumClasses != 2 {
		return 0.0
	}
	hit := float64(cm.Matrix[a][b])
	miss := float64(cm.Matrix[c][d])
	if hit+miss == 0 {
		return 0.0
	}
	return hit / (hit + miss)
}

func (cm *ConfusionMatrix) macroF1() float64 {
	sum := 0.0
	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		var fp, fn float64
		for other := 0; other < cm.NumClasses; other++ {
			if other != class {
				fp += float64(cm.Matrix[other][class])
				fn += float64(cm.Matrix[class][other])
			}
		}
		var p, r float64
		if tp+fp > 0 {
			p = tp / (tp + fp)
		}
		if tp+fn > 0 {
			r = tp / (tp + fn)
		}
		sum += harmonic(p, r)
	}
	if cm.NumClasses == 0 {
		return 0.0
	}
	return sum / float64(cm.NumClasses)
}

func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0.0
	}
	return 2 * (p * r) / (p + r)
}

// GetAccuracy returns overall classification accuracy as a fraction
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}

	return float64(correct) / float64(cm.TotalSamples)
}

// CalculateAUCROC calculates Area Under ROC Curve for binary classification
// from per-example positive-class scores.
func CalculateAUCROC(scores []float32, labels []int) float64 {
	if len(scores) != len(labels) {
		return 0.0
	}

	// Create prediction-label pairs for sorting
	type predLabel struct {
		score float32
		label int
	}

	pairs := make([]predLabel, len(scores))
	for i := range scores {
		pairs[i] = predLabel{score: scores[i], label: labels[i]}
	}

	// Sort by prediction score (descending)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].score > pairs[j].score
	})

	totalPos := 0
	totalNeg := 0
	for _, pair := range pairs {
		if pair.label == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}

	if totalPos == 0 || totalNeg == 0 {
		return 0.0 // Cannot calculate AUC without both classes
	}

	// Calculate AUC using trapezoidal rule
	auc := 0.0
	tp := 0
	fp := 0
	prevTPR := 0.0
	prevFPR := 0.0

	for _, pair := range pairs {
		if pair.label == 1 {
			tp++
		} else {
			fp++
		}

		tpr := float64(tp) / float64(totalPos)
		fpr := float64(fp) / float64(totalNeg)

		// Add trapezoid area
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2.0

		prevTPR = tpr
		prevFPR = fpr
	}

	return auc
}

// PositiveScores returns the softmax probability of class 1 for each row.
func PositiveScores(logits *tensor.Tensor) ([]float32, error) {
	probs, err := tensor.Softmax(logits)
	if err != nil {
		return nil, err
	}
	scores := make([]float32, probs.Shape[0])
	for i := range scores {
		scores[i] = probs.At(i, 1)
	}
	return scores, nil
}
