package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-tipadapter/tensor"
)

// AdamConfig holds configuration for the AdamW optimizer
type AdamConfig struct {
	LearningRate float32 // Base rate; each ParamGroup carries its own LR
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero
	WeightDecay  float32 // Decoupled weight decay coefficient
}

// DefaultAdamConfig returns default AdamW optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
	}
}

// AdamW implements Adam with decoupled weight decay over parameter groups
// that each carry their own learning rate.
type AdamW struct {
	config AdamConfig
	groups []*groupState

	// Step tracking for bias correction
	StepCount uint64
}

type groupState struct {
	name   string
	params []*tensor.Tensor
	baseLR float32
	lr     float32

	momentum [][]float32 // First moment for each parameter
	variance [][]float32 // Second moment for each parameter
}

// NewAdamW creates an optimizer over groups. Groups with a negative LR are
// rejected; a zero LR freezes the group.
func NewAdamW(config AdamConfig, groups []ParamGroup) (*AdamW, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("no parameter groups provided")
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got (%g, %g)", config.Beta1, config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %g", config.Epsilon)
	}

	opt := &AdamW{config: config}
	for _, g := range groups {
		if g.LR < 0 {
			return nil, fmt.Errorf("group %q has negative learning rate %g", g.Name, g.LR)
		}
		st := &groupState{
			name:     g.Name,
			params:   g.Params,
			baseLR:   g.LR,
			lr:       g.LR,
			momentum: make([][]float32, len(g.Params)),
			variance: make([][]float32, len(g.Params)),
		}
		for i, p := range g.Params {
			st.momentum[i] = make([]float32, len(p.Data))
			st.variance[i] = make([]float32, len(p.Data))
		}
		opt.groups = append(opt.groups, st)
	}
	return opt, nil
}

// Step applies one AdamW update to every non-frozen group.
func (o *AdamW) Step(grads [][]*tensor.Tensor) error {
	if len(grads) != len(o.groups) {
		return fmt.Errorf("got gradients for %d groups, expected %d", len(grads), len(o.groups))
	}

	o.StepCount++
	t := float64(o.StepCount)
	bc1 := 1 - math.Pow(float64(o.config.Beta1), t)
	bc2 := 1 - math.Pow(float64(o.config.Beta2), t)

	b1, b2 := o.config.Beta1, o.config.Beta2
	eps := float64(o.config.Epsilon)

	for gi, g := range o.groups {
		if g.lr == 0 {
			continue
		}
		if len(grads[gi]) != len(g.params) {
			return fmt.Errorf("group %q: got %d gradients for %d parameters", g.name, len(grads[gi]), len(g.params))
		}

		lr := float64(g.lr)
		decay := float32(1 - lr*float64(o.config.WeightDecay))
		stepSize := lr / bc1

		for pi, p := range g.params {
			grad := grads[gi][pi]
			if grad == nil {
				continue
			}
			if !grad.SameShape(p) {
				return fmt.Errorf("group %q parameter %d: gradient shape %v does not match %v", g.name, pi, grad.Shape, p.Shape)
			}

			m, v := g.momentum[pi], g.variance[pi]
			for i, gv := range grad.Data {
				m[i] = b1*m[i] + (1-b1)*gv
				v[i] = b2*v[i] + (1-b2)*gv*gv

				denom := math.Sqrt(float64(v[i])/bc2) + eps
				p.Data[i] = p.Data[i]*decay - float32(stepSize*float64(m[i])/denom)
			}
		}
	}
	return nil
}

// GetStepCount returns the current optimization step number
func (o *AdamW) GetStepCount() uint64 {
	return o.StepCount
}

func (o *AdamW) Groups() []GroupInfo {
	out := make([]GroupInfo, len(o.groups))
	for i, g := range o.groups {
		out[i] = GroupInfo{Name: g.name, BaseLR: g.baseLR, CurrentLR: g.lr}
	}
	return out
}

func (o *AdamW) SetGroupLR(group int, lr float32) error {
	if group < 0 || group >= len(o.groups) {
		return fmt.Errorf("group index %d out of range", group)
	}
	if lr < 0 {
		return fmt.Errorf("learning rate must be non-negative, got %g", lr)
	}
	o.groups[group].lr = lr
	return nil
}

var _ Optimizer = (*AdamW)(nil)
