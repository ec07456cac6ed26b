// Package pipeline implements the offline stages of gridcast: ingestion of
// the raw CSV files into the warehouse, preprocessing into a design matrix,
// training, evaluation and drift monitoring. Each stage is a small struct
// built from config plus the narrow interfaces it needs, so stages can run
// against the real warehouse from the CLI or against fakes in tests.
package pipeline

import (
	"context"

	"github.com/ajitpratap0/gridcast/pkg/logger"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"github.com/ajitpratap0/gridcast/pkg/observability"
	"go.uber.org/zap"
)

// Stage names used for logging, tracing and the stage duration histogram.
const (
	StageIngestion     = "ingestion"
	StagePreprocessing = "preprocessing"
	StageTraining      = "training"
	StageEvaluation    = "evaluation"
	StageMonitoring    = "monitoring"
)

var tracer = observability.NewComponentTracer("pipeline")

// RunStage runs fn as the named stage: the context carries the stage name
// for logging, the call is traced and its duration and the process memory
// afterwards are recorded.
func RunStage(ctx context.Context, name string, base *zap.Logger, fn func(ctx context.Context) error) error {
	ctx = logger.WithStage(ctx, name)
	log := logger.FromContext(ctx, base)
	log.Info("stage started")

	timer := metrics.NewTimer(name)
	err := tracer.Trace(ctx, name, fn)
	elapsed := timer.Stop()
	metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if rss, memErr := metrics.ObserveProcessMemory(); memErr == nil {
		log = log.With(zap.Uint64("rss_bytes", rss))
	}
	if err != nil {
		log.Error("stage failed", zap.Duration("duration", elapsed), zap.Error(err))
		return err
	}
	log.Info("stage finished", zap.Duration("duration", elapsed))
	return nil
}
