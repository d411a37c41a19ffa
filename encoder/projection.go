package encoder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"unicode"

	"github.com/tsawler/go-tipadapter/tensor"
)

// poolGrid is the side of the average-pooled grid images are reduced to
// before projection.
const poolGrid = 8

// ProjectionBackbone is a deterministic stand-in for a pretrained encoder.
// Images are average-pooled to an 8×8×3 grid and multiplied by a seeded
// Gaussian matrix; questions are embedded as a sum of per-token Gaussian
// vectors seeded by the token hash. It runs offline and is what the tests
// train against.
type ProjectionBackbone struct {
	dim  int
	seed int64
	proj *tensor.Tensor // [dim, 3*poolGrid*poolGrid]
}

func NewProjectionBackbone(dim int, seed int64) *ProjectionBackbone {
	rng := rand.New(rand.NewSource(seed))
	// Shape is always valid, dim was checked by Open.
	proj, _ := tensor.RandomNormal([]int{dim, 3 * poolGrid * poolGrid}, 0, 1, rng)
	return &ProjectionBackbone{dim: dim, seed: seed, proj: proj}
}

func (p *ProjectionBackbone) Name() string { return fmt.Sprintf("projection:%d", p.seed) }

func (p *ProjectionBackbone) Dim() int { return p.dim }

func (p *ProjectionBackbone) Close() error { return nil }

func (p *ProjectionBackbone) EncodeImages(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error) {
	if len(images.Shape) != 4 || images.Shape[1] != 3 {
		return nil, fmt.Errorf("expected images of shape [B, 3, H, W], got %v", images.Shape)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, h, w := images.Shape[0], images.Shape[2], images.Shape[3]
	pooled, err := tensor.Zeros([]int{b, 3 * poolGrid * poolGrid})
	if err != nil {
		return nil, err
	}

	plane := h * w
	for n := 0; n < b; n++ {
		out := pooled.Row(n)
		counts := make([]float32, len(out))
		img := images.Data[n*3*plane : (n+1)*3*plane]
		for c := 0; c < 3; c++ {
			for y := 0; y < h; y++ {
				gy := y * poolGrid / h
				for x := 0; x < w; x++ {
					gx := x * poolGrid / w
					cell := c*poolGrid*poolGrid + gy*poolGrid + gx
					out[cell] += img[c*plane+y*w+x]
					counts[cell]++
				}
			}
		}
		for i := range out {
			if counts[i] > 0 {
				out[i] /= counts[i]
			}
		}
	}

	return tensor.MatMulTransB(pooled, p.proj)
}

func (p *ProjectionBackbone) EncodeTexts(ctx context.Context, texts []string) (*tensor.Tensor, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to encode")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := tensor.Zeros([]int{len(texts), p.dim})
	if err != nil {
		return nil, err
	}
	for i, text := range texts {
		row := out.Row(i)
		for _, tok := range tokenize(text) {
			rng := rand.New(rand.NewSource(p.tokenSeed(tok)))
			for j := range row {
				row[j] += float32(rng.NormFloat64())
			}
		}
	}
	return out, nil
}

func (p *ProjectionBackbone) tokenSeed(tok string) int64 {
	h := fnv.New64a()
	h.Write([]byte(tok))
	return int64(h.Sum64()) ^ p.seed
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
