package optimizer

import (
	"github.com/tsawler/go-tipadapter/tensor"
)

// Optimizer defines the common interface for all optimizers.
type Optimizer interface {
	// Step performs a single optimization step.
	// grads[g][p] is the gradient of parameter p of group g; frozen groups
	// may pass nil.
	Step(grads [][]*tensor.Tensor) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// Groups describes the parameter groups in registration order.
	Groups() []GroupInfo

	// SetGroupLR updates the learning rate of one group.
	SetGroupLR(group int, lr float32) error
}

// ParamGroup is a set of parameters sharing one learning rate. A zero
// learning rate freezes the group.
type ParamGroup struct {
	Name   string
	Params []*tensor.Tensor
	LR     float32
}

// GroupInfo reports a group's name, its initial learning rate and the
// learning rate currently in effect.
type GroupInfo struct {
	Name      string
	BaseLR    float32
	CurrentLR float32
}
