// Package adapter implements the Tip-Adapter-F model: a learnable cache
// adapter initialised from the cache keys plus a linear classification
// head over the fused features.
//
// For a [B, D] feature batch x the logits are
//
//	A      = x · Wᵀ                     affinity with every cached example
//	K      = exp(-(β - β·A))            sharpened affinity
//	logits = x · Hᵀ + α · K · V
//
// where W is the [N, D] adapter weight, H the [2, D] head and V the [N, 2]
// cache values.
package adapter

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-tipadapter/cache"
	"github.com/tsawler/go-tipadapter/tensor"
	"github.com/tsawler/go-tipadapter/vision/dataset"
)

// Model holds the trainable adapter and head weights and the fixed cache
// values and blend parameters.
type Model struct {
	Adapter *tensor.Tensor // [N, D], starts as the transposed cache keys
	Head    *tensor.Tensor // [2, D], no bias
	Values  *tensor.Tensor // [N, 2]
	Alpha   float32
	Beta    float32
}

// Pass keeps the intermediates of a forward pass for Backward.
type Pass struct {
	Input    *tensor.Tensor
	Affinity *tensor.Tensor // A
	Kernel   *tensor.Tensor // K
	Logits   *tensor.Tensor
}

// Gradients of the loss with respect to the trainable weights.
type Gradients struct {
	Adapter *tensor.Tensor
	Head    *tensor.Tensor
}

// New builds a model over c. The head is initialised like a default linear
// layer from seed.
func New(c *cache.Cache, alpha, beta float32, seed int64) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w, err := tensor.Transpose(c.Keys)
	if err != nil {
		return nil, err
	}
	head, err := tensor.KaimingUniform(dataset.NumClasses, c.Dim(), rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}
	return &Model{
		Adapter: w,
		Head:    head,
		Values:  c.Values,
		Alpha:   alpha,
		Beta:    beta,
	}, nil
}

// Dim is the feature width the model accepts.
func (m *Model) Dim() int { return m.Adapter.Shape[1] }

// SetAdapter replaces the adapter weight, as when restoring a checkpoint.
func (m *Model) SetAdapter(w *tensor.Tensor) error {
	if !w.SameShape(m.Adapter) {
		return fmt.Errorf("adapter weight has shape %v, expected %v", w.Shape, m.Adapter.Shape)
	}
	m.Adapter = w
	return nil
}

// Forward computes the logits for x and keeps what Backward needs.
func (m *Model) Forward(x *tensor.Tensor) (*Pass, error) {
	if len(x.Shape) != 2 || x.Shape[1] != m.Dim() {
		return nil, fmt.Errorf("expected features of shape [B, %d], got %v", m.Dim(), x.Shape)
	}

	affinity, err := tensor.MatMulTransB(x, m.Adapter)
	if err != nil {
		return nil, err
	}
	kernel := sharpen(affinity, m.Beta)

	cacheLogits, err := tensor.MatMul(kernel, m.Values)
	if err != nil {
		return nil, err
	}
	logits, err := tensor.MatMulTransB(x, m.Head)
	if err != nil {
		return nil, err
	}
	if err := tensor.AddScaledInPlace(logits, cacheLogits, m.Alpha); err != nil {
		return nil, err
	}

	return &Pass{Input: x, Affinity: affinity, Kernel: kernel, Logits: logits}, nil
}

// Logits is Forward without the intermediates.
func (m *Model) Logits(x *tensor.Tensor) (*tensor.Tensor, error) {
	p, err := m.Forward(x)
	if err != nil {
		return nil, err
	}
	return p.Logits, nil
}

// Backward propagates dLogits ([B, 2]) back to the adapter and head.
func (m *Model) Backward(p *Pass, dLogits *tensor.Tensor) (*Gradients, error) {
	if !dLogits.SameShape(p.Logits) {
		return nil, fmt.Errorf("gradient shape %v does not match logits %v", dLogits.Shape, p.Logits.Shape)
	}

	dHead, err := tensor.MatMulTransA(dLogits, p.Input)
	if err != nil {
		return nil, err
	}

	// dK = α · dLogits · Vᵀ, then dA = dK ⊙ K · β.
	dKernel, err := tensor.MatMulTransB(dLogits, m.Values)
	if err != nil {
		return nil, err
	}
	scale := m.Alpha * m.Beta
	for i, k := range p.Kernel.Data {
		dKernel.Data[i] *= k * scale
	}

	dAdapter, err := tensor.MatMulTransA(dKernel, p.Input)
	if err != nil {
		return nil, err
	}
	return &Gradients{Adapter: dAdapter, Head: dHead}, nil
}

// sharpen returns exp(-(β - β·a)) elementwise.
func sharpen(a *tensor.Tensor, beta float32) *tensor.Tensor {
	out := a.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32(math.Exp(float64(-(beta - beta*v))))
	}
	return out
}
