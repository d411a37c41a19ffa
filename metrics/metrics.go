// Package metrics exposes training progress as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Training groups the collectors updated by the trainer. A nil *Training is
// valid and records nothing.
type Training struct {
	Registry *prometheus.Registry

	TrainLoss        prometheus.Gauge
	TrainAccuracy    prometheus.Gauge
	EvalAccuracy     prometheus.Gauge
	BestAccuracy     prometheus.Gauge
	LearningRate     *prometheus.GaugeVec
	Steps            prometheus.Counter
	CheckpointsSaved prometheus.Counter
	RecordsDropped   *prometheus.CounterVec
}

// NewTraining registers the training collectors on a fresh registry.
func NewTraining() *Training {
	reg := prometheus.NewRegistry()
	m := &Training{
		Registry: reg,
		TrainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tipadapter_train_loss",
			Help: "Mean cross-entropy loss of the last training epoch",
		}),
		TrainAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tipadapter_train_accuracy",
			Help: "Training accuracy (percent) of the last epoch",
		}),
		EvalAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tipadapter_eval_accuracy",
			Help: "Validation accuracy (percent) of the last epoch",
		}),
		BestAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tipadapter_best_accuracy",
			Help: "Best validation accuracy (percent) seen so far",
		}),
		LearningRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tipadapter_learning_rate",
			Help: "Current learning rate per parameter group",
		}, []string{"group"}),
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tipadapter_steps_total",
			Help: "Optimizer steps taken",
		}),
		CheckpointsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tipadapter_checkpoints_saved_total",
			Help: "Best-checkpoint writes",
		}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tipadapter_records_dropped_total",
			Help: "Input records skipped by the data pipeline",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.TrainLoss, m.TrainAccuracy, m.EvalAccuracy, m.BestAccuracy,
		m.LearningRate, m.Steps, m.CheckpointsSaved, m.RecordsDropped,
	)
	return m
}

func (m *Training) ObserveStep(lrs map[string]float64) {
	if m == nil {
		return
	}
	m.Steps.Inc()
	for group, lr := range lrs {
		m.LearningRate.WithLabelValues(group).Set(lr)
	}
}

func (m *Training) ObserveTrainEpoch(loss, acc float64) {
	if m == nil {
		return
	}
	m.TrainLoss.Set(loss)
	m.TrainAccuracy.Set(acc)
}

func (m *Training) ObserveEval(acc, best float64, saved bool) {
	if m == nil {
		return
	}
	m.EvalAccuracy.Set(acc)
	m.BestAccuracy.Set(best)
	if saved {
		m.CheckpointsSaved.Inc()
	}
}

func (m *Training) ObserveDropped(reason string) {
	if m == nil {
		return
	}
	m.RecordsDropped.WithLabelValues(reason).Inc()
}

// Serve exposes the registry on addr until ctx is cancelled.
func (m *Training) Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("address", addr).Msg("starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", addr).Msg("metrics server failed")
		}
	}()
}
