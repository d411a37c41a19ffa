package dataloader

import (
	"context"
	"errors"
	"image/color"
	"io"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-tipadapter/testutil"
	"github.com/tsawler/go-tipadapter/vision/dataset"
)

func newTestDataset(t *testing.T, n int) *dataset.VQADataset {
	t.Helper()
	return dataset.NewVQADataset("train", testutil.Lines(t, n))
}

func drain(t *testing.T, dl *DataLoader) []*Batch {
	t.Helper()
	var batches []*Batch
	for {
		b, err := dl.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, b)
	}
}

func TestBatchShapesAreConsistent(t *testing.T) {
	dl := NewDataLoader(newTestDataset(t, 10), Config{BatchSize: 4, ImageSize: 8, NumWorkers: 3})
	assert.Equal(t, 3, dl.Len())

	batches := drain(t, dl)
	require.Len(t, batches, 3)

	sizes := []int{4, 4, 2}
	for i, b := range batches {
		assert.Equal(t, sizes[i], b.Size())
		assert.Len(t, b.Questions, b.Size())
		assert.Len(t, b.Indices, b.Size())
		assert.Equal(t, []int{b.Size(), 3, 8, 8}, b.Images.Shape)
	}
}

func TestOrderedLoaderKeepsDatasetOrder(t *testing.T) {
	dl := NewDataLoader(newTestDataset(t, 6), Config{BatchSize: 4, ImageSize: 4})
	batches := drain(t, dl)

	var order []int
	var labels []int
	for _, b := range batches {
		order = append(order, b.Indices...)
		labels = append(labels, b.Labels...)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
	assert.Equal(t, []int{1, 0, 1, 0, 1, 0}, labels)
}

func TestShuffleIsSeededAndCoversAllRecords(t *testing.T) {
	ds := newTestDataset(t, 12)
	orderOf := func(seed int64) []int {
		dl := NewDataLoader(ds, Config{BatchSize: 5, ImageSize: 4, Shuffle: true, Seed: seed})
		var order []int
		for _, b := range drain(t, dl) {
			order = append(order, b.Indices...)
		}
		return order
	}

	a, b := orderOf(1), orderOf(1)
	assert.Equal(t, a, b, "same seed must give same order")

	sorted := append([]int(nil), a...)
	sort.Ints(sorted)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, sorted)
}

func TestUnlabeledRecordsAreDropped(t *testing.T) {
	lines := testutil.Lines(t, 4)
	lines[1] = testutil.Record(1, "what colour?", "blue", testutil.PNGBase64(t, color.RGBA{1, 2, 3, 255}))
	ds := dataset.NewVQADataset("train", lines)

	var dropped []int
	dl := NewDataLoader(ds, Config{BatchSize: 4, ImageSize: 4, OnDrop: func(idx int, err error) {
		assert.ErrorIs(t, err, dataset.ErrUnlabeled)
		dropped = append(dropped, idx)
	}})

	batches := drain(t, dl)
	require.Len(t, batches, 1)
	assert.Equal(t, []int{0, 2, 3}, batches[0].Indices)
	assert.Equal(t, 3, batches[0].Images.Shape[0])
	assert.Equal(t, []int{1}, dropped)
}

func TestMalformedRecordIsFatal(t *testing.T) {
	ds := dataset.NewVQADataset("val", []string{"only\ttwo fields"})
	dl := NewDataLoader(ds, Config{BatchSize: 2, ImageSize: 4})

	_, err := dl.Next(context.Background())
	assert.ErrorIs(t, err, dataset.ErrMalformedRecord)
}

func TestSharedLoadersReuseDecodedImages(t *testing.T) {
	ds := newTestDataset(t, 6)
	ordered, shuffled := NewSharedDataLoaders(ds, Config{BatchSize: 3, ImageSize: 4, Seed: 1}, 16)

	drain(t, ordered)
	drain(t, shuffled)

	stats := shuffled.config.Cache.Stats()
	assert.Equal(t, 6, stats.Size)
	assert.Equal(t, int64(6), stats.Hits)
	assert.Same(t, ordered.config.Cache, shuffled.config.Cache)
	assert.False(t, ordered.config.Shuffle)
	assert.True(t, shuffled.config.Shuffle)
}

func TestIteratorStreamsOneEpoch(t *testing.T) {
	dl := NewDataLoader(newTestDataset(t, 7), Config{BatchSize: 3, ImageSize: 4, Shuffle: true, Seed: 3})
	assert.Equal(t, 7, dl.NumRecords())
	assert.Equal(t, 3, dl.Len())

	for epoch := 0; epoch < 2; epoch++ {
		total := 0
		for res := range dl.Iterator(context.Background(), 2) {
			require.NoError(t, res.Err)
			total += res.Batch.Size()
		}
		assert.Equal(t, 7, total, "epoch %d", epoch)
	}
}

func TestIteratorReleasesProducerOnCancel(t *testing.T) {
	before := runtime.NumGoroutine()
	dl := NewDataLoader(newTestDataset(t, 10), Config{BatchSize: 2, ImageSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	ch := dl.Iterator(ctx, 1)
	res := <-ch
	require.NoError(t, res.Err)
	cancel()

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, 2*time.Second, 10*time.Millisecond)
}

func TestImageCacheEviction(t *testing.T) {
	c := NewImageCache(2)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	_, _ = c.Get("a")
	c.Put("c", []float32{3})

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []float32{1}, v)

	var disabled *ImageCache = NewImageCache(0)
	assert.Nil(t, disabled)
	disabled.Put("x", nil)
	_, ok = disabled.Get("x")
	assert.False(t, ok)
}
