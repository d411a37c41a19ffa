// Package cache builds the key/value cache of Tip-Adapter from the fused
// features of the few-shot training subset.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tsawler/go-tipadapter/blobstore"
	"github.com/tsawler/go-tipadapter/featurestore"
	"github.com/tsawler/go-tipadapter/tensor"
	"github.com/tsawler/go-tipadapter/vision/dataloader"
	"github.com/tsawler/go-tipadapter/vision/dataset"
)

// ErrEmpty is returned when the training subset yields no labelled example.
var ErrEmpty = errors.New("cache: no labelled training example")

// Cache holds one key column and one value row per training example.
//
//	Keys   [D, N]  fused features, column j is example j
//	Values [N, 2]  one-hot labels
type Cache struct {
	Keys   *tensor.Tensor
	Values *tensor.Tensor
	Labels []int
}

// Extractor turns one epoch of a loader into a stacked feature set.
type Extractor interface {
	Extract(ctx context.Context, loader *dataloader.DataLoader, onBatch func(*dataloader.Batch)) (featurestore.Set, error)
}

// FromSet builds a cache from [N, D] features and their labels.
func FromSet(set featurestore.Set) (*Cache, error) {
	if len(set.Labels) == 0 {
		return nil, ErrEmpty
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	keys, err := tensor.Transpose(set.Features)
	if err != nil {
		return nil, err
	}
	values, err := tensor.OneHot(set.Labels, dataset.NumClasses)
	if err != nil {
		return nil, fmt.Errorf("invalid cache labels: %w", err)
	}
	c := &Cache{Keys: keys, Values: values, Labels: append([]int(nil), set.Labels...)}
	return c, c.Validate()
}

// Build encodes every example of the ordered loader and builds the cache.
func Build(ctx context.Context, loader *dataloader.DataLoader, ex Extractor) (*Cache, error) {
	set, err := ex.Extract(ctx, loader, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache examples: %w", err)
	}
	return FromSet(set)
}

// Options control where Load persists the cache features.
type Options struct {
	Shots int
	// Reuse reads features saved by an earlier run instead of encoding.
	Reuse  bool
	Store  blobstore.Store
	Logger zerolog.Logger
}

// Load returns the cache for the training subset. With Reuse set it reads
// the saved features and fails when none exist; otherwise it builds them
// and writes them to the store for later runs.
func Load(ctx context.Context, loader *dataloader.DataLoader, ex Extractor, opts Options) (*Cache, error) {
	name := featurestore.CacheName(opts.Shots)

	if opts.Reuse {
		set, err := featurestore.Load(ctx, opts.Store, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load cache features %s: %w", name, err)
		}
		opts.Logger.Info().Str("blob", name).Int("examples", set.Len()).Msg("loaded cache features")
		return FromSet(set)
	}

	set, err := ex.Extract(ctx, loader, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache examples: %w", err)
	}
	c, err := FromSet(set)
	if err != nil {
		return nil, err
	}
	if opts.Store != nil {
		if err := featurestore.Save(ctx, opts.Store, name, set); err != nil {
			return nil, fmt.Errorf("failed to save cache features: %w", err)
		}
	}
	opts.Logger.Info().Str("blob", name).Int("examples", c.Size()).Int("dim", c.Dim()).Msg("built cache")
	return c, nil
}

// Size is the number of cached examples N.
func (c *Cache) Size() int { return c.Keys.Shape[1] }

// Dim is the feature width D.
func (c *Cache) Dim() int { return c.Keys.Shape[0] }

// Validate checks that keys and values describe the same examples.
func (c *Cache) Validate() error {
	if len(c.Keys.Shape) != 2 || len(c.Values.Shape) != 2 {
		return fmt.Errorf("cache keys and values must be 2-D")
	}
	if c.Keys.Shape[1] != c.Values.Shape[0] {
		return fmt.Errorf("cache has %d keys but %d values", c.Keys.Shape[1], c.Values.Shape[0])
	}
	if c.Values.Shape[1] != dataset.NumClasses {
		return fmt.Errorf("cache values have %d classes, expected %d", c.Values.Shape[1], dataset.NumClasses)
	}
	return nil
}

// Scaled returns a copy whose values are multiplied by s. Keys are shared.
func (c *Cache) Scaled(s float32) *Cache {
	return &Cache{Keys: c.Keys, Values: tensor.Scale(c.Values, s), Labels: c.Labels}
}
