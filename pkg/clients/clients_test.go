package clients

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *HTTPConfig {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 0
	cfg.CircuitBreaker = &CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour}
	return cfg
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "gridcast/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"run_id":"abc"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient("mlflow", testConfig(), testutil.TestLogger(t))
	defer c.Close()

	var out struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, c.PostJSON(context.Background(), srv.URL+"/runs/create", map[string]string{"a": "b"}, &out))
	assert.Equal(t, "abc", out.RunID)
	assert.Equal(t, int64(1), c.Stats().TotalRequests)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   errors.ErrorType
	}{
		{http.StatusNotFound, errors.ErrorTypeNotFound},
		{http.StatusBadRequest, errors.ErrorTypeValidation},
		{http.StatusTooManyRequests, errors.ErrorTypeConnection},
		{http.StatusBadGateway, errors.ErrorTypeConnection},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			cfg := testConfig()
			cfg.CircuitBreaker = nil
			err := NewHTTPClient("mlflow", cfg, nil).GetJSON(context.Background(), srv.URL, nil)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.want), err.Error())

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, "nope", se.Body)
		})
	}
}

func TestCircuitOpensOnServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient("mlflow", testConfig(), nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		assert.True(t, errors.IsType(c.GetJSON(ctx, srv.URL, nil), errors.ErrorTypeConnection))
	}

	err := c.GetJSON(ctx, srv.URL, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "open", c.Stats().CircuitBreaker)
}

func TestClientErrorsDoNotOpenCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient("mlflow", testConfig(), nil)
	for i := 0; i < 5; i++ {
		assert.True(t, errors.IsType(c.GetJSON(context.Background(), srv.URL, nil), errors.ErrorTypeNotFound))
	}
	assert.Equal(t, "closed", c.Stats().CircuitBreaker)
}

func TestTimeoutIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewHTTPClient("mlflow", testConfig(), nil).GetJSON(ctx, srv.URL, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout), "%v", err)
	assert.True(t, errors.IsRetryable(err))
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("model bytes"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	n, err := NewHTTPClient("artifacts", nil, nil).Download(context.Background(), srv.URL, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "model bytes", buf.String())
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker("registry", CircuitBreakerConfig{
		FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond, HalfOpenRequests: 2,
	}, testutil.TestLogger(t))

	boom := errors.New(errors.ErrorTypeConnection, "boom")
	assert.Equal(t, boom, cb.Execute(func() error { return boom }, nil))
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, ErrCircuitOpen, cb.Execute(func() error { return nil }, nil))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }, nil))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())

	notCounted := errors.New(errors.ErrorTypeNotFound, "missing")
	err := cb.Execute(func() error { return notCounted }, func(err error) bool {
		return !errors.IsType(err, errors.ErrorTypeNotFound)
	})
	assert.Equal(t, notCounted, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)

	s := rl.Stats()
	assert.Equal(t, int64(2), s.AllowedRequests)
	assert.Equal(t, int64(2), s.BlockedRequests)
}
