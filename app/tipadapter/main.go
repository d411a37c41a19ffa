// Command tipadapter fine-tunes a Tip-Adapter-F cache adapter for yes/no
// visual question answering and reports the best validation accuracy.
//
// Usage:
//
//	tipadapter --config ./configs/vqa.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tsawler/go-tipadapter/adapter"
	"github.com/tsawler/go-tipadapter/blobstore"
	"github.com/tsawler/go-tipadapter/blobstore/minio"
	"github.com/tsawler/go-tipadapter/cache"
	"github.com/tsawler/go-tipadapter/checkpoints"
	"github.com/tsawler/go-tipadapter/config"
	"github.com/tsawler/go-tipadapter/encoder"
	"github.com/tsawler/go-tipadapter/featurestore"
	"github.com/tsawler/go-tipadapter/logging"
	"github.com/tsawler/go-tipadapter/metrics"
	"github.com/tsawler/go-tipadapter/optimizer"
	"github.com/tsawler/go-tipadapter/training"
	"github.com/tsawler/go-tipadapter/vision/dataloader"
	"github.com/tsawler/go-tipadapter/vision/dataset"
)

// imageCacheSize bounds the decoded images shared by the two train loaders.
const imageCacheSize = 4096

func main() {
	configPath := flag.String("config", "./configs/vqa.yaml", "settings file in yaml format")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tipadapter: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	logger.Info().
		Str("config", configPath).
		Str("dataset", cfg.Dataset).
		Str("backbone", cfg.Backbone).
		Int("shots", cfg.Shots).
		Str("cache_dir", cfg.CacheDir).
		Msg("running configs")

	m := metrics.NewTraining()
	if cfg.MetricsAddr != "" {
		m.Serve(ctx, cfg.MetricsAddr, logger)
	}

	train, val, err := dataset.LoadSplits(cfg.RootPath)
	if err != nil {
		return err
	}
	train = train.Head(cfg.TrainLimit)
	logger.Info().Int("train", train.Len()).Int("val", val.Len()).Msg("loaded splits")

	onDrop := func(index int, err error) {
		m.ObserveDropped("unlabeled")
		logger.Debug().Int("index", index).Err(err).Msg("dropped record")
	}
	ordered, shuffled := dataloader.NewSharedDataLoaders(train, dataloader.Config{
		BatchSize:  cfg.TrainBatchSize,
		Seed:       cfg.Seed,
		ImageSize:  cfg.ImageSize,
		NumWorkers: cfg.NumWorkers,
		OnDrop:     onDrop,
	}, imageCacheSize)
	valLoader := dataloader.NewDataLoader(val, dataloader.Config{
		BatchSize:  cfg.EvalBatchSize,
		ImageSize:  cfg.ImageSize,
		NumWorkers: cfg.NumWorkers,
		OnDrop:     onDrop,
	})

	logger.Info().
		Int("train_records", shuffled.NumRecords()).
		Int("train_batches", shuffled.Len()).
		Int("val_records", valLoader.NumRecords()).
		Int("val_batches", valLoader.Len()).
		Msg("built loaders")

	backbone, err := encoder.Open(encoder.Options{
		Name:    cfg.Backbone,
		Device:  cfg.Device,
		URL:     cfg.BackboneURL,
		Dim:     cfg.EmbedDim,
		Seed:    cfg.Seed,
		Timeout: time.Minute,
	})
	if err != nil {
		return err
	}
	defer backbone.Close()
	enc := encoder.New(backbone)

	blobs, err := openStore(cfg)
	if err != nil {
		return err
	}

	logger.Info().Msg("constructing cache model by few-shot visual features and labels")
	kv, err := cache.Load(ctx, ordered, enc, cache.Options{
		Shots:  cfg.Shots,
		Reuse:  cfg.LoadCache,
		Store:  blobs,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	kv = kv.Scaled(float32(cfg.CacheValueScale))

	eval, err := loadEvalFeatures(ctx, cfg, enc, valLoader, blobs, logger)
	if err != nil {
		return err
	}

	model, err := adapter.New(kv, float32(cfg.InitAlpha), float32(cfg.InitBeta), cfg.Seed)
	if err != nil {
		return err
	}

	ckpt, err := checkpoints.NewStore(blobs, checkpoints.StoreConfig{
		Shots:     cfg.Shots,
		Versioned: cfg.VersionedCheckpoints,
	}, logger)
	if err != nil {
		return err
	}
	defer ckpt.Close()

	adam := optimizer.DefaultAdamConfig()
	adam.LearningRate = float32(cfg.LR)
	adam.WeightDecay = float32(cfg.WeightDecay)
	adam.Epsilon = float32(cfg.AdamEps)

	trainer := training.NewTrainer(training.TrainingConfig{
		Epochs:    cfg.Epochs,
		Adam:      adam,
		AdapterLR: float32(cfg.AdapterLR),
		HeadLR:    float32(cfg.HeadLR),
		Progress:  os.Stderr,
	}, enc, ckpt, m, logger)

	logger.Info().Msg("start training Tip-Adapter-F")
	_, report, err := trainer.Run(ctx, model, shuffled, eval)
	if errors.Is(err, training.ErrNoImprovement) {
		return fmt.Errorf("no checkpoint to restore from %s: %w", blobName(blobs, ckpt.BestName()), err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("**** Tip-Adapter-F's best test accuracy: %.2f (epoch %d) ****\n", report.BestAcc, report.BestEpoch)

	if cfg.SearchHP {
		res, err := training.SearchHyperparameters(model, eval, training.SearchGrid{
			Scale: [2]float64{cfg.SearchScale[0], cfg.SearchScale[1]},
			Steps: [2]int{cfg.SearchStep[0], cfg.SearchStep[1]},
		})
		if err != nil {
			return err
		}
		logger.Info().
			Float32("alpha", res.Alpha).
			Float32("beta", res.Beta).
			Float64("acc", res.Accuracy).
			Msg("after searching, the best accuracy")
	}
	return nil
}

// blobName is the location of name for error messages.
func blobName(blobs blobstore.Store, name string) string {
	if local, ok := blobs.(*blobstore.LocalStore); ok {
		return local.Path(name)
	}
	return name
}

func openStore(cfg *config.Config) (blobstore.Store, error) {
	if cfg.Storage.Kind != "minio" {
		return blobstore.NewLocalStore(cfg.CacheDir), nil
	}
	store, err := minio.Open(minio.Options{
		Endpoint:  cfg.Storage.Endpoint,
		Bucket:    cfg.Storage.Bucket,
		Prefix:    cfg.Storage.Prefix,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Secure:    cfg.Storage.Secure,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func loadEvalFeatures(ctx context.Context, cfg *config.Config, enc *encoder.Encoder, loader *dataloader.DataLoader, blobs blobstore.Store, logger zerolog.Logger) (featurestore.Set, error) {
	name := featurestore.SplitName("val")
	if cfg.LoadPreFeat {
		set, err := featurestore.Load(ctx, blobs, name)
		if err != nil {
			return featurestore.Set{}, fmt.Errorf("failed to load validation features %s: %w", name, err)
		}
		logger.Info().Str("blob", name).Int("examples", set.Len()).Msg("loaded validation features")
		return set, nil
	}

	logger.Info().Msg("extracting visual features and labels from val set")
	set, err := enc.Extract(ctx, loader, nil)
	if err != nil {
		return featurestore.Set{}, err
	}
	if err := set.Validate(); err != nil {
		return featurestore.Set{}, fmt.Errorf("validation split has no labelled example: %w", err)
	}
	if err := featurestore.Save(ctx, blobs, name, set); err != nil {
		return featurestore.Set{}, err
	}
	return set, nil
}
