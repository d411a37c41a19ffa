package encoder

import (
	"context"
	"fmt"

	"github.com/tsawler/go-tipadapter/featurestore"
	"github.com/tsawler/go-tipadapter/tensor"
	"github.com/tsawler/go-tipadapter/vision/dataloader"
)

// FusionFactor is the width of a fused feature relative to one embedding.
const FusionFactor = 5

// Fuse combines per-example image and text embeddings into
// [t, i, t⊙i, |t−i|, t+i] and L2-normalises each fused row. Inputs are
// normalised first; both must be [B, D].
func Fuse(image, text *tensor.Tensor) (*tensor.Tensor, error) {
	if !image.SameShape(text) || len(image.Shape) != 2 {
		return nil, fmt.Errorf("cannot fuse embeddings of shapes %v and %v", image.Shape, text.Shape)
	}

	img := image.Clone()
	txt := text.Clone()
	if err := tensor.NormalizeRows(img); err != nil {
		return nil, err
	}
	if err := tensor.NormalizeRows(txt); err != nil {
		return nil, err
	}

	b, d := img.Shape[0], img.Shape[1]
	out, err := tensor.Zeros([]int{b, FusionFactor * d})
	if err != nil {
		return nil, err
	}
	for n := 0; n < b; n++ {
		iv, tv, row := img.Row(n), txt.Row(n), out.Row(n)
		for k := 0; k < d; k++ {
			t, i := tv[k], iv[k]
			diff := t - i
			if diff < 0 {
				diff = -diff
			}
			row[k] = t
			row[d+k] = i
			row[2*d+k] = t * i
			row[3*d+k] = diff
			row[4*d+k] = t + i
		}
		tensor.NormalizeVec(row)
	}
	return out, nil
}

// Encoder produces fused features for data loader batches.
type Encoder struct {
	backbone Backbone
}

func New(backbone Backbone) *Encoder {
	return &Encoder{backbone: backbone}
}

// FeatureDim is the width of the vectors Features returns.
func (e *Encoder) FeatureDim() int {
	return FusionFactor * e.backbone.Dim()
}

// Features encodes a batch's images and questions and fuses them into a
// [B, FeatureDim] tensor.
func (e *Encoder) Features(ctx context.Context, batch *dataloader.Batch) (*tensor.Tensor, error) {
	if batch.Images.Shape[0] != len(batch.Questions) {
		return nil, fmt.Errorf("batch has %d images but %d questions", batch.Images.Shape[0], len(batch.Questions))
	}

	imageEmb, err := e.backbone.EncodeImages(ctx, batch.Images)
	if err != nil {
		return nil, fmt.Errorf("image encoding failed: %w", err)
	}
	textEmb, err := e.backbone.EncodeTexts(ctx, batch.Questions)
	if err != nil {
		return nil, fmt.Errorf("text encoding failed: %w", err)
	}
	return Fuse(imageEmb, textEmb)
}

// Extract walks one epoch of loader and stacks the fused features of every
// batch in loader order. onBatch, if non-nil, is called after each batch.
func (e *Encoder) Extract(ctx context.Context, loader *dataloader.DataLoader, onBatch func(batch *dataloader.Batch)) (featurestore.Set, error) {
	var (
		data   []float32
		labels []int
	)
	iterCtx, stop := context.WithCancel(ctx)
	defer stop()
	for res := range loader.Iterator(iterCtx, 1) {
		if res.Err != nil {
			return featurestore.Set{}, res.Err
		}
		feats, err := e.Features(ctx, res.Batch)
		if err != nil {
			return featurestore.Set{}, err
		}
		data = append(data, feats.Data...)
		labels = append(labels, res.Batch.Labels...)
		if onBatch != nil {
			onBatch(res.Batch)
		}
	}
	if err := ctx.Err(); err != nil {
		return featurestore.Set{}, err
	}
	if len(labels) == 0 {
		return featurestore.Set{Labels: labels}, nil
	}

	features, err := tensor.NewTensor([]int{len(labels), e.FeatureDim()}, data)
	if err != nil {
		return featurestore.Set{}, err
	}
	return featurestore.Set{Features: features, Labels: labels}, nil
}
