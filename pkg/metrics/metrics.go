// Package metrics provides Prometheus instrumentation for gridcast: the
// inference path, the model version cache, the pipeline stages and process
// memory.
//
// # Basic Usage
//
//	// Count a served prediction
//	metrics.PredictionsTotal.WithLabelValues("success").Inc()
//
//	// Time a stage
//	timer := metrics.NewTimer("preprocessing")
//	runStage()
//	metrics.StageDuration.WithLabelValues("preprocessing").Observe(timer.Stop().Seconds())
//
//	// Track ingestion throughput
//	tracker := metrics.NewThroughputTracker("ingestion", "weather")
//	tracker.Increment(int64(chunk.Len()))
//	rowsPerSec := tracker.GetAndReset()
//
// All collectors are registered with the default registry through promauto
// and exposed by the inference server at /metrics.
package metrics

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	// PredictionsTotal counts served predictions.
	// Labels: status (success/error)
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridcast_predictions_total",
			Help: "Total number of prediction requests by outcome",
		},
		[]string{"status"},
	)

	// PredictionLatency tracks end-to-end predict latency in seconds.
	PredictionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "gridcast_prediction_latency_seconds",
			Help: "Prediction latency in seconds",
			Buckets: []float64{
				0.0005, // 500μs - cached model, small tree
				0.001,
				0.005,
				0.01,
				0.05,
				0.1,
				0.5,
				2, // remote model fetch
			},
		},
	)

	// ModelCacheEvents tracks model version cache outcomes.
	// Labels: outcome (hit/remote/local/failure)
	ModelCacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridcast_model_cache_events_total",
			Help: "Model version cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// InferenceLogFailures counts inference records the sink could not persist.
	InferenceLogFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridcast_inference_log_failures_total",
			Help: "Inference records that could not be written to the warehouse",
		},
	)

	// RowsProcessed counts rows moved by pipeline stages.
	// Labels: stage, dataset
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridcast_rows_processed_total",
			Help: "Total number of rows processed by pipeline stages",
		},
		[]string{"stage", "dataset"},
	)

	// StageDuration tracks pipeline stage wall time in seconds.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridcast_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"stage"},
	)

	// FrameBytes reports the in-memory size of the last optimized frame.
	// Labels: phase (before/after)
	FrameBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridcast_frame_bytes",
			Help: "Estimated in-memory size of the last optimized frame",
		},
		[]string{"phase"},
	)

	// ProcessMemory reports resident and virtual memory of this process.
	// Labels: kind (rss/vms)
	ProcessMemory = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridcast_process_memory_bytes",
			Help: "Process memory in bytes",
		},
		[]string{"kind"},
	)

	// Throughput tracks rows per second for a stage.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridcast_throughput_rows_per_second",
			Help: "Current throughput in rows per second",
		},
		[]string{"stage", "dataset"},
	)

	// RemoteRequests counts calls to the registry and artifact store.
	// Labels: target, outcome (success/client_error/server_error/transport_error/rejected)
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridcast_remote_requests_total",
			Help: "Remote registry and artifact store requests by outcome",
		},
		[]string{"target", "outcome"},
	)

	// RemoteLatency tracks remote call latency in seconds.
	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridcast_remote_request_duration_seconds",
			Help:    "Remote request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// DriftScore exposes the last PSI computed per feature.
	DriftScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridcast_feature_drift_psi",
			Help: "Population stability index of the last drift report",
		},
		[]string{"feature"},
	)
)

// ObserveProcessMemory samples RSS and VMS of the current process and
// publishes them on ProcessMemory. It returns the RSS in bytes.
func ObserveProcessMemory() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	ProcessMemory.WithLabelValues("rss").Set(float64(info.RSS))
	ProcessMemory.WithLabelValues("vms").Set(float64(info.VMS))
	return info.RSS, nil
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the label the timer was created with.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks rows per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	stage     string
	dataset   string
}

// NewThroughputTracker creates a new throughput tracker for a stage and dataset.
func NewThroughputTracker(stage, dataset string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		stage:     stage,
		dataset:   dataset,
	}
}

// Increment adds n to the row count and to RowsProcessed.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	t.count += n
	t.mu.Unlock()
	RowsProcessed.WithLabelValues(t.stage, t.dataset).Add(float64(n))
}

// GetAndReset calculates the current throughput, updates the gauge, resets
// the counter and returns the rows per second.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.stage, t.dataset).Set(throughput)

	return throughput
}
