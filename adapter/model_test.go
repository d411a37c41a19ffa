package adapter

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-tipadapter/cache"
	"github.com/tsawler/go-tipadapter/featurestore"
	"github.com/tsawler/go-tipadapter/tensor"
)

func testModel(t *testing.T, n, d int, alpha, beta float32) (*Model, *tensor.Tensor) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	feats, err := tensor.RandomNormal([]int{n, d}, 0, 1, rng)
	require.NoError(t, err)
	require.NoError(t, tensor.NormalizeRows(feats))

	labels := make([]int, n)
	for i := range labels {
		labels[i] = i % 2
	}
	c, err := cache.FromSet(featurestore.Set{Features: feats, Labels: labels})
	require.NoError(t, err)

	m, err := New(c, alpha, beta, 1)
	require.NoError(t, err)

	x, err := tensor.RandomNormal([]int{3, d}, 0, 1, rng)
	require.NoError(t, err)
	require.NoError(t, tensor.NormalizeRows(x))
	return m, x
}

func TestNewAdapterIsTransposedKeys(t *testing.T) {
	m, _ := testModel(t, 4, 6, 1, 1)
	assert.Equal(t, []int{4, 6}, m.Adapter.Shape)
	assert.Equal(t, []int{2, 6}, m.Head.Shape)
	assert.Equal(t, 6, m.Dim())
}

func TestForwardMatchesFormula(t *testing.T) {
	m, x := testModel(t, 4, 5, 2, 3)
	p, err := m.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, p.Logits.Shape)

	for b := 0; b < 3; b++ {
		for c := 0; c < 2; c++ {
			var head float64
			for k := 0; k < 5; k++ {
				head += float64(x.At(b, k) * m.Head.At(c, k))
			}
			var cacheLogit float64
			for j := 0; j < 4; j++ {
				var a float64
				for k := 0; k < 5; k++ {
					a += float64(x.At(b, k) * m.Adapter.At(j, k))
				}
				cacheLogit += math.Exp(-(3-3*a)) * float64(m.Values.At(j, c))
			}
			assert.InDelta(t, head+2*cacheLogit, p.Logits.At(b, c), 1e-4)
		}
	}
}

func TestForwardRejectsWrongWidth(t *testing.T) {
	m, _ := testModel(t, 4, 5, 1, 1)
	x, _ := tensor.Zeros([]int{2, 4})
	_, err := m.Forward(x)
	assert.Error(t, err)
}

// lossOf is sum(logits ⊙ g), whose gradient w.r.t. logits is g.
func lossOf(t *testing.T, m *Model, x, g *tensor.Tensor) float64 {
	logits, err := m.Logits(x)
	require.NoError(t, err)
	var s float64
	for i, v := range logits.Data {
		s += float64(v) * float64(g.Data[i])
	}
	return s
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	m, x := testModel(t, 4, 5, 1.5, 2)
	g, err := tensor.RandomNormal([]int{3, 2}, 0, 1, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	p, err := m.Forward(x)
	require.NoError(t, err)
	grads, err := m.Backward(p, g)
	require.NoError(t, err)

	const eps = 1e-2
	check := func(name string, w, analytic *tensor.Tensor) {
		for i := range w.Data {
			orig := w.Data[i]
			w.Data[i] = orig + eps
			up := lossOf(t, m, x, g)
			w.Data[i] = orig - eps
			down := lossOf(t, m, x, g)
			w.Data[i] = orig
			numeric := (up - down) / (2 * eps)
			assert.InDelta(t, numeric, analytic.Data[i], 2e-2, "%s[%d]", name, i)
		}
	}
	check("adapter", m.Adapter, grads.Adapter)
	check("head", m.Head, grads.Head)
}

func TestSetAdapterChecksShape(t *testing.T) {
	m, _ := testModel(t, 4, 5, 1, 1)
	bad, _ := tensor.Zeros([]int{5, 4})
	assert.Error(t, m.SetAdapter(bad))

	good, _ := tensor.Zeros([]int{4, 5})
	require.NoError(t, m.SetAdapter(good))
	assert.Same(t, good, m.Adapter)
}
