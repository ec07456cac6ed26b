// Package clients provides the HTTP transport used to reach the model
// registry: a pooled HTTP/2 capable client guarded by a circuit breaker and
// a token bucket, with JSON helpers that map HTTP failures onto gridcast
// error types.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	EnableHTTP2         bool          `json:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `json:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
	RequestTimeout        time.Duration `json:"request_timeout"`
	KeepAlive             time.Duration `json:"keep_alive"`

	InsecureSkipVerify bool `json:"insecure_skip_verify"`

	// Rate limiting; zero disables it
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// CircuitBreaker is nil to disable the breaker
	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty"`

	UserAgent string `json:"user_agent"`
	// MaxErrorBody caps how much of an error response is kept in the error
	MaxErrorBody int64 `json:"max_error_body"`
}

// DefaultHTTPConfig returns settings for talking to one registry host.
func DefaultHTTPConfig() *HTTPConfig {
	cb := DefaultCircuitBreakerConfig()
	return &HTTPConfig{
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		RequestTimeout:        30 * time.Second,
		KeepAlive:             30 * time.Second,
		RateLimit:             50,
		RateBurst:             20,
		CircuitBreaker:        &cb,
		UserAgent:             "gridcast/1.0",
		MaxErrorBody:          4096,
	}
}

// HTTPClient is the registry transport.
type HTTPClient struct {
	name       string
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	breaker     *CircuitBreaker
	rateLimiter *RateLimiter

	totalRequests  int64
	failedRequests int64
}

// NewHTTPClient creates a client; name labels its logs and metrics.
func NewHTTPClient(name string, config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &HTTPClient{
		name:   name,
		config: config,
		logger: logger.With(zap.String("component", "http_client"), zap.String("target", name)),
	}

	c.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // opt-in for local registries
			MinVersion:         tls.VersionTLS12,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(c.transport); err != nil {
			c.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	c.httpClient = &http.Client{
		Transport: c.transport,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.RateLimit > 0 {
		c.rateLimiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}
	if config.CircuitBreaker != nil {
		c.breaker = NewCircuitBreaker(name, *config.CircuitBreaker, logger)
	}
	return c
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Do sends req and returns responses of any status. Transport errors and
// 5xx responses count against the circuit breaker.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			metrics.RemoteRequests.WithLabelValues(c.name, "rejected").Inc()
			return nil, classify(err, "rate limit wait")
		}
	}
	if c.breaker != nil && !c.breaker.Allow() {
		atomic.AddInt64(&c.failedRequests, 1)
		metrics.RemoteRequests.WithLabelValues(c.name, "rejected").Inc()
		return nil, errors.Wrap(ErrCircuitOpen, errors.ErrorTypeUnavailable, c.name+" unavailable")
	}
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RemoteLatency.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		metrics.RemoteRequests.WithLabelValues(c.name, "transport_error").Inc()
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		c.logger.Debug("request failed", zap.String("method", req.Method), zap.String("url", req.URL.Redacted()), zap.Error(err))
		return nil, classify(err, req.Method+" "+req.URL.Path)
	}

	outcome := "success"
	switch {
	case resp.StatusCode >= 500:
		outcome = "server_error"
		atomic.AddInt64(&c.failedRequests, 1)
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
	case resp.StatusCode >= 400:
		outcome = "client_error"
		if c.breaker != nil {
			c.breaker.RecordSuccess()
		}
	default:
		if c.breaker != nil {
			c.breaker.RecordSuccess()
		}
	}
	metrics.RemoteRequests.WithLabelValues(c.name, outcome).Inc()
	return resp, nil
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a 2xx response
// into out (when non-nil).
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err.WithDetail("method", method).WithDetail("url", req.URL.Redacted())
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "decode response").WithDetail("url", req.URL.Redacted())
	}
	return nil
}

// GetJSON is DoJSON with GET.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, out interface{}) error {
	return c.DoJSON(ctx, http.MethodGet, url, nil, out)
}

// PostJSON is DoJSON with POST.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, in, out interface{}) error {
	return c.DoJSON(ctx, http.MethodPost, url, in, out)
}

// Download streams a 2xx response body into w.
func (c *HTTPClient) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConfig, "build request")
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return 0, err.WithDetail("url", req.URL.Redacted())
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, classify(err, "download body")
	}
	return n, nil
}

func (c *HTTPClient) checkStatus(resp *http.Response) *errors.Error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxErrorBody))
	cause := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}

	var t errors.ErrorType
	switch {
	case resp.StatusCode == http.StatusNotFound:
		t = errors.ErrorTypeNotFound
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		t = errors.ErrorTypeConnection
	default:
		t = errors.ErrorTypeValidation
	}
	return errors.Wrap(cause, t, c.name+" returned "+strconv.Itoa(resp.StatusCode))
}

// classify maps transport failures to timeout or connection errors.
func classify(err error, op string) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return errors.Wrap(err, errors.ErrorTypeTimeout, op+" timed out")
	case errors.Is(err, context.Canceled):
		return errors.Wrap(err, errors.ErrorTypeTimeout, op+" cancelled")
	default:
		return errors.Wrap(err, errors.ErrorTypeConnection, op+" failed")
	}
}

// Stats summarizes the client.
func (c *HTTPClient) Stats() HTTPStats {
	total := atomic.LoadInt64(&c.totalRequests)
	failed := atomic.LoadInt64(&c.failedRequests)
	s := HTTPStats{TotalRequests: total, FailedRequests: failed}
	if total > 0 {
		s.SuccessRate = float64(total-failed) / float64(total) * 100
	}
	if c.breaker != nil {
		s.CircuitBreaker = c.breaker.Snapshot().State
	}
	return s
}

// Close drops idle connections.
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
	CircuitBreaker string  `json:"circuit_breaker,omitempty"`
}
