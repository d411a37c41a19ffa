// Package dataloader groups VQA records into decoded, normalised batches.
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-tipadapter/tensor"
	"github.com/tsawler/go-tipadapter/vision/dataset"
	"github.com/tsawler/go-tipadapter/vision/preprocessing"
)

// Dataset interface defines the contract for datasets
type Dataset interface {
	Name() string
	Len() int
	Get(index int) (dataset.Record, error)
}

// Batch is one group of examples. Images is [B, 3, S, S]; Questions,
// Labels and Indices all have length B.
type Batch struct {
	Images    *tensor.Tensor
	Questions []string
	Labels    []int
	Indices   []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize  int
	Shuffle    bool
	Seed       int64
	ImageSize  int
	NumWorkers int // parallel decoders per batch
	Cache      *ImageCache

	// OnDrop is called for every record skipped because its answer carries
	// no yes/no label. It may be nil.
	OnDrop func(index int, err error)
}

// DataLoader walks a dataset in fixed-size batches, either in dataset order
// or in a seeded shuffled order that is redrawn on every Reset.
type DataLoader struct {
	dataset  Dataset
	config   Config
	indices  []int
	position int
	rng      *rand.Rand
	mu       sync.Mutex

	processors chan *preprocessing.ImageProcessor
}

// NewDataLoader creates a new data loader
func NewDataLoader(ds Dataset, config Config) *DataLoader {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.ImageSize <= 0 {
		config.ImageSize = 224
	}

	dl := &DataLoader{
		dataset:    ds,
		config:     config,
		indices:    make([]int, ds.Len()),
		rng:        rand.New(rand.NewSource(config.Seed)),
		processors: make(chan *preprocessing.ImageProcessor, config.NumWorkers),
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}
	for i := 0; i < config.NumWorkers; i++ {
		dl.processors <- preprocessing.NewImageProcessor(config.ImageSize)
	}
	dl.shuffle()
	return dl
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	n := len(dl.indices)
	return (n + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// NumRecords returns the number of records the loader walks per epoch.
func (dl *DataLoader) NumRecords() int {
	return len(dl.indices)
}

// Reset rewinds to the first batch, reshuffling when enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	dl.shuffle()
}

func (dl *DataLoader) shuffle() {
	if !dl.config.Shuffle {
		return
	}
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Next returns the next batch, or io.EOF once the epoch is exhausted.
// Batches whose every record was dropped are skipped.
func (dl *DataLoader) Next(ctx context.Context) (*Batch, error) {
	for {
		dl.mu.Lock()
		if dl.position >= len(dl.indices) {
			dl.mu.Unlock()
			return nil, io.EOF
		}
		end := dl.position + dl.config.BatchSize
		if end > len(dl.indices) {
			end = len(dl.indices)
		}
		indices := append([]int(nil), dl.indices[dl.position:end]...)
		dl.position = end
		dl.mu.Unlock()

		batch, err := dl.loadBatch(ctx, indices)
		if err != nil {
			return nil, err
		}
		if batch != nil {
			return batch, nil
		}
	}
}

// loadBatch decodes the given records concurrently and assembles them in
// index order.
func (dl *DataLoader) loadBatch(ctx context.Context, indices []int) (*Batch, error) {
	type item struct {
		record dataset.Record
		image  []float32
		ok     bool
	}
	items := make([]item, len(indices))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(dl.config.NumWorkers)
	for slot, idx := range indices {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := dl.dataset.Get(idx)
			if errors.Is(err, dataset.ErrUnlabeled) {
				if dl.config.OnDrop != nil {
					dl.config.OnDrop(idx, err)
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s record %d: %w", dl.dataset.Name(), idx, err)
			}
			img, err := dl.loadImage(idx, rec.Image)
			if err != nil {
				return fmt.Errorf("%s record %d: %w", dl.dataset.Name(), idx, err)
			}
			items[slot] = item{record: rec, image: img, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	size := dl.config.ImageSize
	pixels := 3 * size * size
	var (
		data      []float32
		questions []string
		labels    []int
		kept      []int
	)
	for slot, it := range items {
		if !it.ok {
			continue
		}
		data = append(data, it.image...)
		questions = append(questions, it.record.Question)
		labels = append(labels, it.record.Label)
		kept = append(kept, indices[slot])
	}
	if len(labels) == 0 {
		return nil, nil
	}

	images, err := tensor.NewTensor([]int{len(labels), 3, size, size}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble image batch: %w", err)
	}
	if images.NumElems != len(labels)*pixels {
		return nil, fmt.Errorf("image batch has %d values, expected %d", images.NumElems, len(labels)*pixels)
	}

	return &Batch{
		Images:    images,
		Questions: questions,
		Labels:    labels,
		Indices:   kept,
	}, nil
}

// loadImage loads an image with caching support
func (dl *DataLoader) loadImage(idx int, payload string) ([]float32, error) {
	key := fmt.Sprintf("%s/%d", dl.dataset.Name(), idx)
	if data, ok := dl.config.Cache.Get(key); ok {
		return data, nil
	}

	p := <-dl.processors
	img, err := p.DecodeBase64Image(payload)
	dl.processors <- p
	if err != nil {
		return nil, err
	}

	dl.config.Cache.Put(key, img.Data)
	return img.Data, nil
}

// BatchResult carries one prefetched batch or the error that ended the epoch.
type BatchResult struct {
	Batch *Batch
	Err   error
}

// Iterator resets the loader and streams one epoch of batches, decoding up
// to prefetch batches ahead of the consumer. The channel is closed after
// the last batch or after the first error. A consumer that stops reading
// before the channel is closed must cancel ctx to release the producer.
func (dl *DataLoader) Iterator(ctx context.Context, prefetch int) <-chan BatchResult {
	if prefetch < 0 {
		prefetch = 0
	}
	dl.Reset()
	out := make(chan BatchResult, prefetch)

	go func() {
		defer close(out)
		for {
			batch, err := dl.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case out <- BatchResult{Batch: batch, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// NewSharedDataLoaders creates the two views of the training subset used by
// Tip-Adapter-F: an ordered loader for building the cache and a shuffled
// loader for gradient steps. They share one image cache.
func NewSharedDataLoaders(train Dataset, config Config, cacheSize int) (ordered, shuffled *DataLoader) {
	shared := NewImageCache(cacheSize)

	orderedConfig := config
	orderedConfig.Shuffle = false
	orderedConfig.Cache = shared

	shuffledConfig := config
	shuffledConfig.Shuffle = true
	shuffledConfig.Cache = shared

	return NewDataLoader(train, orderedConfig), NewDataLoader(train, shuffledConfig)
}
