// Package encoder turns batches of images and questions into fused feature
// vectors using a frozen vision-language backbone.
package encoder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tsawler/go-tipadapter/tensor"
)

// Backbone is a frozen image/text embedding model. Both entry points return
// one row per input; rows need not be normalised.
type Backbone interface {
	Name() string
	Dim() int
	EncodeImages(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error)
	EncodeTexts(ctx context.Context, texts []string) (*tensor.Tensor, error)
	Close() error
}

// Options selects and configures a backbone.
type Options struct {
	// Name is the backbone identifier. "projection" or "projection:<seed>"
	// selects the local random-projection backbone; anything else (ViT-B/32,
	// RN50, ...) is served by the embedding server at URL.
	Name    string
	Device  string
	URL     string
	Dim     int
	Seed    int64
	Timeout time.Duration
}

// Open builds the backbone named in opts.
func Open(opts Options) (Backbone, error) {
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", opts.Dim)
	}

	if opts.Name == "projection" || strings.HasPrefix(opts.Name, "projection:") {
		seed := opts.Seed
		if _, s, ok := strings.Cut(opts.Name, ":"); ok {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid projection seed %q: %w", s, err)
			}
			seed = v
		}
		return NewProjectionBackbone(opts.Dim, seed), nil
	}

	if opts.URL == "" {
		return nil, fmt.Errorf("backbone %q needs backbone_url pointing at an embedding server", opts.Name)
	}
	return NewRemoteBackbone(opts)
}
