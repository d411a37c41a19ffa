package training

import (
	"math"

	"github.com/tsawler/go-tipadapter/optimizer"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the position in training.
type LRScheduler interface {
	// GetLR returns the learning rate after `step` optimizer steps taken
	// during `epoch`. step counts from the start of training.
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// CosineAnnealingLRScheduler anneals from the base rate to EtaMin over TMax
// optimizer steps along half a cosine period.
type CosineAnnealingLRScheduler struct {
	TMax   int     // Steps in the annealing period
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 1
	}
	if etaMin < 0 {
		etaMin = 0 // Default: anneal to 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if step >= s.TMax {
		return s.EtaMin
	}

	// Cosine annealing formula
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(step)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// applySchedule sets every optimizer group to the scheduled rate for the
// given position and returns the rates by group name.
func applySchedule(s LRScheduler, opt optimizer.Optimizer, epoch, step int) (map[string]float64, error) {
	rates := make(map[string]float64)
	for i, g := range opt.Groups() {
		lr := s.GetLR(epoch, step, float64(g.BaseLR))
		if err := opt.SetGroupLR(i, float32(lr)); err != nil {
			return nil, err
		}
		rates[g.Name] = lr
	}
	return rates, nil
}
