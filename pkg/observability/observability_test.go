package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndTrace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "gridcast-test"
	require.NoError(t, Initialize(cfg))
	require.NotNil(t, GetTracer())

	tracer := NewComponentTracer("service")

	calls := 0
	err := tracer.Trace(context.Background(), "predict", func(ctx context.Context) error {
		calls++
		assert.NotNil(t, ctx)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err = tracer.Trace(context.Background(), "predict", func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSpanAttributes(t *testing.T) {
	_, span := NewSpan(context.Background(), "test.span")
	span.SetAttribute("rows", 10)
	span.SetAttribute("dataset", "weather")
	span.SetAttribute("ratio", 0.5)
	span.SetAttribute("ok", true)
	span.SetAttribute("version", struct{ V int }{2})
	time.Sleep(time.Millisecond)

	assert.Len(t, span.attributes, 5)
	assert.GreaterOrEqual(t, span.Elapsed(), time.Millisecond)
	span.End()
}

func TestShutdownWithoutProvider(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}
