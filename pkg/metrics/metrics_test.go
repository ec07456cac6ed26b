package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("ingestion", "metrics_test")
	before := testutil.ToFloat64(RowsProcessed.WithLabelValues("ingestion", "metrics_test"))

	tracker.Increment(100)
	tracker.Increment(50)
	time.Sleep(5 * time.Millisecond)

	rate := tracker.GetAndReset()
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, before+150, testutil.ToFloat64(RowsProcessed.WithLabelValues("ingestion", "metrics_test")))
	assert.Equal(t, rate, testutil.ToFloat64(Throughput.WithLabelValues("ingestion", "metrics_test")))

	time.Sleep(time.Millisecond)
	assert.Equal(t, 0.0, tracker.GetAndReset())
}

func TestTimer(t *testing.T) {
	timer := NewTimer("stage")
	time.Sleep(2 * time.Millisecond)
	first := timer.Stop()
	second := timer.Stop()

	assert.Equal(t, "stage", timer.Name())
	assert.GreaterOrEqual(t, first, 2*time.Millisecond)
	assert.GreaterOrEqual(t, second, first)
}

func TestObserveProcessMemory(t *testing.T) {
	rss, err := ObserveProcessMemory()
	require.NoError(t, err)
	assert.Greater(t, rss, uint64(0))
	assert.Equal(t, float64(rss), testutil.ToFloat64(ProcessMemory.WithLabelValues("rss")))
}
