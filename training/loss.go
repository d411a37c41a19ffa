package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-tipadapter/tensor"
)

// Loss interface defines methods that all loss functions must implement
type Loss interface {
	Forward(predicted *tensor.Tensor, target []int) (float64, error)
	Backward(predicted *tensor.Tensor, target []int) (*tensor.Tensor, error)
}

// CrossEntropyLoss implements Cross Entropy loss function for classification
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

func (ce *CrossEntropyLoss) check(predicted *tensor.Tensor, target []int) error {
	if len(predicted.Shape) != 2 {
		return fmt.Errorf("predicted must be 2D tensor [batch_size, num_classes], got shape %v", predicted.Shape)
	}
	if predicted.Shape[0] != len(target) {
		return fmt.Errorf("batch size mismatch: predicted %d, target %d", predicted.Shape[0], len(target))
	}
	if len(target) == 0 {
		return fmt.Errorf("empty batch")
	}
	numClasses := predicted.Shape[1]
	for _, c := range target {
		if c < 0 || c >= numClasses {
			return fmt.Errorf("target class %d out of range [0, %d)", c, numClasses)
		}
	}
	return nil
}

// Forward computes the Cross Entropy loss
// predicted: [batch_size, num_classes] logits
// target: class index per row
func (ce *CrossEntropyLoss) Forward(predicted *tensor.Tensor, target []int) (float64, error) {
	if err := ce.check(predicted, target); err != nil {
		return 0, err
	}

	probs, err := tensor.Softmax(predicted)
	if err != nil {
		return 0, fmt.Errorf("softmax computation failed: %w", err)
	}

	var total float64
	for i, c := range target {
		prob := float64(probs.At(i, c))
		// Add small epsilon to prevent log(0)
		if prob < 1e-10 {
			prob = 1e-10
		}
		total -= math.Log(prob)
	}

	if ce.reduction == "mean" {
		total /= float64(len(target))
	}
	return total, nil
}

// Backward computes the gradient of Cross Entropy loss with respect to the
// logits: softmax(predicted) - onehot(target), divided by the batch size
// under mean reduction.
func (ce *CrossEntropyLoss) Backward(predicted *tensor.Tensor, target []int) (*tensor.Tensor, error) {
	if err := ce.check(predicted, target); err != nil {
		return nil, err
	}

	grad, err := tensor.Softmax(predicted)
	if err != nil {
		return nil, fmt.Errorf("softmax computation failed: %w", err)
	}

	// Subtract 1 from the true class probabilities
	for i, c := range target {
		grad.Set(i, c, grad.At(i, c)-1)
	}

	if ce.reduction == "mean" {
		grad = tensor.Scale(grad, 1/float32(len(target)))
	}
	return grad, nil
}
