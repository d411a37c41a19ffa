package checkpoints

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/tsawler/go-tipadapter/blobstore"
	"github.com/tsawler/go-tipadapter/tensor"
)

// SnapshotDir holds the versioned copies of every improvement.
const SnapshotDir = "snapshots/"

// AdapterWeightName is the tensor name written into checkpoints.
const AdapterWeightName = "adapter.weight"

// StoreConfig configures a Store.
type StoreConfig struct {
	Shots int
	// Versioned also writes every improvement to SnapshotDir, zstd
	// compressed, next to the overwritten best checkpoint.
	Versioned bool
	Format    CheckpointFormat
}

// Store saves and restores the best adapter weight of a run over a blob
// store. The best checkpoint is best_F_<shots>shots.pt; snapshots are
// snapshots/best_F_<shots>shots-e<epoch>.pt.zst.
type Store struct {
	blobs  blobstore.Store
	config StoreConfig
	logger zerolog.Logger

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore creates a checkpoint store over blobs.
func NewStore(blobs blobstore.Store, config StoreConfig, logger zerolog.Logger) (*Store, error) {
	s := &Store{blobs: blobs, config: config, logger: logger}
	if config.Versioned {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		s.enc, s.dec = enc, dec
	}
	return s, nil
}

// BestName returns the blob name of the best checkpoint.
func (s *Store) BestName() string {
	return fmt.Sprintf("best_F_%dshots.pt", s.config.Shots)
}

// SnapshotName returns the blob name of the snapshot for epoch.
func (s *Store) SnapshotName(epoch int) string {
	return fmt.Sprintf("%sbest_F_%dshots-e%d.pt.zst", SnapshotDir, s.config.Shots, epoch)
}

// SaveBest overwrites the best checkpoint with weight and, when versioning
// is enabled, writes a snapshot for epoch first.
func (s *Store) SaveBest(ctx context.Context, weight *tensor.Tensor, epoch int, acc float64) error {
	c := NewCheckpoint(AdapterWeightName, weight, CheckpointMetadata{
		Epoch:    epoch,
		Accuracy: acc,
		Shots:    s.config.Shots,
	})
	data, err := Marshal(s.config.Format, c)
	if err != nil {
		return err
	}

	if s.config.Versioned {
		s.mu.Lock()
		compressed := s.enc.EncodeAll(data, nil)
		s.mu.Unlock()
		if err := s.blobs.Put(ctx, s.SnapshotName(epoch), compressed); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
	}
	if err := s.blobs.Put(ctx, s.BestName(), data); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.BestName(), err)
	}

	s.logger.Debug().
		Str("checkpoint", s.BestName()).
		Int("epoch", epoch).
		Float64("acc", acc).
		Int("bytes", len(data)).
		Msg("saved best checkpoint")
	return nil
}

// LoadBest reads the best checkpoint.
func (s *Store) LoadBest(ctx context.Context) (*tensor.Tensor, error) {
	c, err := s.LoadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.Tensor()
}

// LoadCheckpoint reads the best checkpoint with its metadata.
func (s *Store) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	data, err := s.blobs.Get(ctx, s.BestName())
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", s.BestName(), ErrNoCheckpoint)
		}
		return nil, err
	}
	return Unmarshal(s.config.Format, data)
}

// Snapshots lists the snapshot blob names in epoch order.
func (s *Store) Snapshots(ctx context.Context) ([]string, error) {
	names, err := s.blobs.List(ctx, SnapshotDir)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("%sbest_F_%dshots-e", SnapshotDir, s.config.Shots)
	var out []string
	epochs := make(map[string]int)
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".pt.zst") {
			continue
		}
		var epoch int
		if _, err := fmt.Sscanf(strings.TrimPrefix(name, prefix), "%d.pt.zst", &epoch); err != nil {
			continue
		}
		epochs[name] = epoch
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return epochs[out[i]] < epochs[out[j]] })
	return out, nil
}

// LoadSnapshot reads a snapshot written by SaveBest.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (*Checkpoint, error) {
	if s.dec == nil {
		return nil, fmt.Errorf("snapshots are disabled")
	}
	compressed, err := s.blobs.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	data, err := s.dec.DecodeAll(compressed, nil)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", name, err)
	}
	return Unmarshal(s.config.Format, data)
}

// Close releases the compression resources.
func (s *Store) Close() error {
	if s.enc != nil {
		_ = s.enc.Close()
	}
	if s.dec != nil {
		s.dec.Close()
	}
	return nil
}
