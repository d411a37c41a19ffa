package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/tsawler/go-tipadapter/adapter"
	"github.com/tsawler/go-tipadapter/featurestore"
	"github.com/tsawler/go-tipadapter/metrics"
	"github.com/tsawler/go-tipadapter/optimizer"
	"github.com/tsawler/go-tipadapter/tensor"
	"github.com/tsawler/go-tipadapter/vision/dataloader"
)

// Parameter group names, in optimizer order. The backbone groups hold no
// parameters here since the embedding model is frozen behind the encoder;
// they keep the schedule and reports aligned with the full parameter set.
const (
	GroupBackboneBias = "backbone_bias"
	GroupBackbone     = "backbone"
	GroupAdapter      = "adapter"
	GroupHead         = "head"
)

// Featurizer turns a data loader batch into [B, D] fused features.
type Featurizer interface {
	Features(ctx context.Context, batch *dataloader.Batch) (*tensor.Tensor, error)
}

// Checkpointer persists the best adapter weight.
type Checkpointer interface {
	SaveBest(ctx context.Context, weight *tensor.Tensor, epoch int, acc float64) error
	LoadBest(ctx context.Context) (*tensor.Tensor, error)
}

// TrainingConfig holds configuration for training
type TrainingConfig struct {
	Epochs    int
	Adam      optimizer.AdamConfig
	AdapterLR float32
	HeadLR    float32

	// Progress receives per-batch progress bars. Nil disables them.
	Progress io.Writer
}

// State is everything that changes while training. It is passed explicitly
// through every phase so a single step can be exercised in isolation.
type State struct {
	Model     *adapter.Model
	Optimizer optimizer.Optimizer
	Scheduler LRScheduler

	Epoch     int // next epoch to run
	Step      int // optimizer steps taken
	BestAcc   float64
	BestEpoch int // -1 until an epoch improves on BestAcc
	Rates     map[string]float64
}

// StepResult reports one training batch.
type StepResult struct {
	Loss    float64
	Correct int
	Size    int
}

// EpochStats holds metrics for a single training epoch
type EpochStats struct {
	Epoch    int
	Loss     float64 // mean of batch losses
	Accuracy float64 // percent over all training examples
	Batches  int
	Samples  int
	LR       float64 // adapter group rate after the last step
	Duration time.Duration
}

// EvalResult reports one evaluation over the validation features.
type EvalResult struct {
	Epoch    int
	Accuracy float64
	Improved bool
}

// Report summarises a finished run.
type Report struct {
	BestAcc   float64
	BestEpoch int
	Confusion *ConfusionMatrix
	AUC       float64
}

// Trainer runs Tip-Adapter-F fine-tuning:
//
//	Init → {TrainEpoch → EvalEpoch}* → Finalize
type Trainer struct {
	config    TrainingConfig
	features  Featurizer
	ckpt      Checkpointer
	criterion *CrossEntropyLoss
	metrics   *metrics.Training
	logger    zerolog.Logger
}

// NewTrainer creates a new Trainer. m may be nil.
func NewTrainer(config TrainingConfig, features Featurizer, ckpt Checkpointer, m *metrics.Training, logger zerolog.Logger) *Trainer {
	return &Trainer{
		config:    config,
		features:  features,
		ckpt:      ckpt,
		criterion: NewCrossEntropyLoss("mean"),
		metrics:   m,
		logger:    logger,
	}
}

// Init builds the optimizer and the cosine schedule spanning
// Epochs × stepsPerEpoch optimizer steps.
func (t *Trainer) Init(model *adapter.Model, stepsPerEpoch int) (*State, error) {
	if t.config.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", t.config.Epochs)
	}
	if stepsPerEpoch <= 0 {
		return nil, fmt.Errorf("training loader has no batches")
	}

	opt, err := optimizer.NewAdamW(t.config.Adam, []optimizer.ParamGroup{
		{Name: GroupBackboneBias, LR: 0},
		{Name: GroupBackbone, LR: 0},
		{Name: GroupAdapter, Params: []*tensor.Tensor{model.Adapter}, LR: t.config.AdapterLR},
		{Name: GroupHead, Params: []*tensor.Tensor{model.Head}, LR: t.config.HeadLR},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}

	s := &State{
		Model:     model,
		Optimizer: opt,
		Scheduler: NewCosineAnnealingLRScheduler(t.config.Epochs*stepsPerEpoch, 0),
		BestEpoch: -1,
	}
	s.Rates, err = applySchedule(s.Scheduler, opt, 0, 0)
	if err != nil {
		return nil, err
	}

	t.logger.Info().
		Int("epochs", t.config.Epochs).
		Int("steps_per_epoch", stepsPerEpoch).
		Float32("adapter_lr", t.config.AdapterLR).
		Float32("head_lr", t.config.HeadLR).
		Str("scheduler", s.Scheduler.GetName()).
		Msg("initialised adapter training")
	return s, nil
}

// Step runs forward, backward and one optimizer update on a batch, then
// advances the schedule.
func (t *Trainer) Step(ctx context.Context, s *State, batch *dataloader.Batch) (StepResult, error) {
	x, err := t.features.Features(ctx, batch)
	if err != nil {
		return StepResult{}, err
	}

	pass, err := s.Model.Forward(x)
	if err != nil {
		return StepResult{}, err
	}
	loss, err := t.criterion.Forward(pass.Logits, batch.Labels)
	if err != nil {
		return StepResult{}, err
	}
	correct, err := countCorrect(pass.Logits, batch.Labels)
	if err != nil {
		return StepResult{}, err
	}

	dLogits, err := t.criterion.Backward(pass.Logits, batch.Labels)
	if err != nil {
		return StepResult{}, err
	}
	grads, err := s.Model.Backward(pass, dLogits)
	if err != nil {
		return StepResult{}, err
	}
	if err := s.Optimizer.Step([][]*tensor.Tensor{nil, nil, {grads.Adapter}, {grads.Head}}); err != nil {
		return StepResult{}, fmt.Errorf("optimizer step failed: %w", err)
	}

	s.Step++
	s.Rates, err = applySchedule(s.Scheduler, s.Optimizer, s.Epoch, s.Step)
	if err != nil {
		return StepResult{}, err
	}
	t.metrics.ObserveStep(s.Rates)

	return StepResult{Loss: loss, Correct: correct, Size: batch.Size()}, nil
}

// TrainEpoch walks one shuffled epoch of loader.
func (t *Trainer) TrainEpoch(ctx context.Context, s *State, loader *dataloader.DataLoader) (EpochStats, error) {
	start := time.Now()
	stats := EpochStats{Epoch: s.Epoch}
	var lossSum float64

	t.logger.Info().Int("epoch", s.Epoch).Int("of", t.config.Epochs).Msg("train epoch")
	bar := NewProgressBar(t.config.Progress, fmt.Sprintf("Train Epoch %d", s.Epoch), loader.Len())

	iterCtx, stop := context.WithCancel(ctx)
	defer stop()
	for res := range loader.Iterator(iterCtx, 1) {
		if res.Err != nil {
			return stats, fmt.Errorf("training epoch %d failed: %w", s.Epoch, res.Err)
		}
		r, err := t.Step(ctx, s, res.Batch)
		if err != nil {
			return stats, fmt.Errorf("training epoch %d failed: %w", s.Epoch, err)
		}
		stats.Batches++
		stats.Samples += r.Size
		lossSum += r.Loss
		stats.Accuracy += float64(r.Correct)

		bar.Update(stats.Batches, map[string]float64{"loss": lossSum / float64(stats.Batches)})
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	bar.Finish()

	if stats.Batches == 0 {
		return stats, fmt.Errorf("training epoch %d produced no batches", s.Epoch)
	}
	stats.Loss = lossSum / float64(stats.Batches)
	stats.Accuracy = 100 * stats.Accuracy / float64(stats.Samples)
	stats.LR = s.Rates[GroupAdapter]
	stats.Duration = time.Since(start)

	t.metrics.ObserveTrainEpoch(stats.Loss, stats.Accuracy)
	t.logger.Info().
		Int("epoch", s.Epoch).
		Float64("lr", stats.LR).
		Float64("acc", stats.Accuracy).
		Int("samples", stats.Samples).
		Float64("loss", stats.Loss).
		Dur("took", stats.Duration).
		Msg("train epoch done")
	return stats, nil
}

// EvalEpoch scores the whole validation set in one pass. A strictly better
// accuracy than any earlier epoch persists the adapter weight.
func (t *Trainer) EvalEpoch(ctx context.Context, s *State, eval featurestore.Set) (EvalResult, error) {
	logits, err := s.Model.Logits(eval.Features)
	if err != nil {
		return EvalResult{}, fmt.Errorf("evaluation failed: %w", err)
	}
	acc, err := Accuracy(logits, eval.Labels)
	if err != nil {
		return EvalResult{}, fmt.Errorf("evaluation failed: %w", err)
	}

	res := EvalResult{Epoch: s.Epoch, Accuracy: acc}
	if acc > s.BestAcc {
		if err := t.ckpt.SaveBest(ctx, s.Model.Adapter, s.Epoch, acc); err != nil {
			return res, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		s.BestAcc = acc
		s.BestEpoch = s.Epoch
		res.Improved = true
	}
	s.Epoch++

	t.metrics.ObserveEval(acc, s.BestAcc, res.Improved)
	t.logger.Info().
		Int("epoch", res.Epoch).
		Float64("acc", acc).
		Float64("best_acc", s.BestAcc).
		Bool("saved", res.Improved).
		Msg("Tip-Adapter-F test accuracy")
	return res, nil
}

// ErrNoImprovement is returned by Finalize when no epoch beat an accuracy
// of zero, so no checkpoint was written.
var ErrNoImprovement = errors.New("no epoch improved on zero accuracy")

// Finalize restores the best checkpoint over the in-memory adapter and
// reports the best accuracy with per-class metrics on eval.
func (t *Trainer) Finalize(ctx context.Context, s *State, eval featurestore.Set) (Report, error) {
	if s.BestEpoch < 0 {
		return Report{}, ErrNoImprovement
	}
	w, err := t.ckpt.LoadBest(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load best checkpoint: %w", err)
	}
	if err := s.Model.SetAdapter(w); err != nil {
		return Report{}, err
	}

	report := Report{BestAcc: s.BestAcc, BestEpoch: s.BestEpoch, Confusion: NewConfusionMatrix(2)}
	logits, err := s.Model.Logits(eval.Features)
	if err != nil {
		return report, err
	}
	if err := report.Confusion.Update(logits, eval.Labels); err != nil {
		return report, err
	}
	scores, err := PositiveScores(logits)
	if err != nil {
		return report, err
	}
	report.AUC = CalculateAUCROC(scores, eval.Labels)

	t.logger.Info().
		Float64("best_acc", report.BestAcc).
		Int("best_epoch", report.BestEpoch).
		Float64("precision", report.Confusion.GetMetric(Precision)).
		Float64("recall", report.Confusion.GetMetric(Recall)).
		Float64("f1", report.Confusion.GetMetric(F1Score)).
		Float64("auc", report.AUC).
		Msg("After fine-tuning, Tip-Adapter-F's best test accuracy")
	return report, nil
}

// Run drives the whole state machine over loader and eval.
func (t *Trainer) Run(ctx context.Context, model *adapter.Model, loader *dataloader.DataLoader, eval featurestore.Set) (*State, Report, error) {
	if err := eval.Validate(); err != nil {
		return nil, Report{}, fmt.Errorf("invalid validation features: %w", err)
	}
	s, err := t.Init(model, loader.Len())
	if err != nil {
		return nil, Report{}, err
	}
	for s.Epoch < t.config.Epochs {
		if _, err := t.TrainEpoch(ctx, s, loader); err != nil {
			return s, Report{}, err
		}
		if _, err := t.EvalEpoch(ctx, s, eval); err != nil {
			return s, Report{}, err
		}
	}
	report, err := t.Finalize(ctx, s, eval)
	return s, report, err
}
