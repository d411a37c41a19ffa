package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-tipadapter/adapter"
	"github.com/tsawler/go-tipadapter/featurestore"
	"github.com/tsawler/go-tipadapter/tensor"
)

// SearchGrid spans beta over Scale[0]/Steps[0] and alpha over
// Scale[1]/Steps[1]: value_i = i·(scale−0.1)/steps + 0.1 for i in [0, steps).
type SearchGrid struct {
	Scale [2]float64
	Steps [2]int
}

// DefaultSearchGrid is the grid used for VQA.
func DefaultSearchGrid() SearchGrid {
	return SearchGrid{Scale: [2]float64{7, 3}, Steps: [2]int{200, 20}}
}

func (g SearchGrid) values(axis int) []float32 {
	out := make([]float32, g.Steps[axis])
	for i := range out {
		out[i] = float32(float64(i)*(g.Scale[axis]-0.1)/float64(g.Steps[axis]) + 0.1)
	}
	return out
}

// SearchResult is the best blend found.
type SearchResult struct {
	Alpha    float32
	Beta     float32
	Accuracy float64
}

// SearchHyperparameters scores every (alpha, beta) pair of grid on eval
// with the model's current weights and returns the first pair reaching the
// best accuracy. The model is not modified.
func SearchHyperparameters(m *adapter.Model, eval featurestore.Set, grid SearchGrid) (SearchResult, error) {
	if grid.Steps[0] <= 0 || grid.Steps[1] <= 0 {
		return SearchResult{}, fmt.Errorf("search steps must be positive, got %v", grid.Steps)
	}
	if err := eval.Validate(); err != nil {
		return SearchResult{}, err
	}

	x := eval.Features
	affinity, err := tensor.MatMulTransB(x, m.Adapter)
	if err != nil {
		return SearchResult{}, err
	}
	headLogits, err := tensor.MatMulTransB(x, m.Head)
	if err != nil {
		return SearchResult{}, err
	}

	best := SearchResult{Accuracy: -1}
	kernel := affinity.Clone()
	for _, beta := range grid.values(0) {
		for i, a := range affinity.Data {
			kernel.Data[i] = float32(math.Exp(float64(-(beta - beta*a))))
		}
		cacheLogits, err := tensor.MatMul(kernel, m.Values)
		if err != nil {
			return SearchResult{}, err
		}

		for _, alpha := range grid.values(1) {
			logits := headLogits.Clone()
			if err := tensor.AddScaledInPlace(logits, cacheLogits, alpha); err != nil {
				return SearchResult{}, err
			}
			acc, err := Accuracy(logits, eval.Labels)
			if err != nil {
				return SearchResult{}, err
			}
			if acc > best.Accuracy {
				best = SearchResult{Alpha: alpha, Beta: beta, Accuracy: acc}
			}
		}
	}
	return best, nil
}
