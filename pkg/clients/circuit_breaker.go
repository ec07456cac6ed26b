package clients

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"go.uber.org/zap"
)

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Timeout          time.Duration // how long the circuit stays open
	HalfOpenRequests int           // probes allowed while half-open
}

// DefaultCircuitBreakerConfig suits a registry that is either up or down:
// a few failures open the circuit for a short while.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 3,
	}
}

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a limited number of requests to test if the service has recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute while the circuit rejects calls.
var ErrCircuitOpen = errors.New(errors.ErrorTypeUnavailable, "circuit breaker is open")

// CircuitBreaker stops calling a remote that keeps failing so that callers
// fall back quickly instead of waiting on every request.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger
	name   string

	state                int32
	consecutiveFailures  int32
	consecutiveSuccesses int32
	halfOpenCounter      int32

	window *SlidingWindow

	mu              sync.RWMutex
	lastStateChange time.Time
	nextRetryTime   time.Time
}

// NewCircuitBreaker creates a closed breaker. The failure rate is tracked
// over a one minute window of six buckets.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = 1
	}
	return &CircuitBreaker{
		config:          config,
		name:            name,
		logger:          logger.With(zap.String("component", "circuit_breaker"), zap.String("target", name)),
		state:           int32(StateClosed),
		lastStateChange: time.Now(),
		window:          NewSlidingWindow(10*time.Second, 60*time.Second),
	}
}

// Execute runs fn unless the circuit is open, and records its outcome.
// Errors for which countable returns false do not count as failures.
func (cb *CircuitBreaker) Execute(fn func() error, countable func(error) bool) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return err
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return true
	case StateOpen:
		cb.mu.RLock()
		retry := time.Now().After(cb.nextRetryTime)
		cb.mu.RUnlock()
		if !retry {
			return false
		}
		cb.transitionToHalfOpen()
		return cb.allowHalfOpen()
	case StateHalfOpen:
		return cb.allowHalfOpen()
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.window.RecordRequest(true)
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
	case StateHalfOpen:
		if atomic.AddInt32(&cb.consecutiveSuccesses, 1) >= int32(cb.config.SuccessThreshold) {
			cb.transitionToClosed()
		}
	}
}

// RecordFailure records a failed call. A half-open circuit reopens on any
// failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.window.RecordRequest(false)
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		failures := atomic.AddInt32(&cb.consecutiveFailures, 1)
		stats := cb.window.GetStats()
		if failures >= int32(cb.config.FailureThreshold) ||
			(stats.TotalRequests >= int64(cb.config.FailureThreshold) && stats.FailureRate > 0.5) {
			cb.transitionToOpen()
		}
	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt32(&cb.state))
}

func (cb *CircuitBreaker) allowHalfOpen() bool {
	return atomic.AddInt32(&cb.halfOpenCounter, 1) <= int32(cb.config.HalfOpenRequests)
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.StoreInt32(&cb.state, int32(StateOpen))
	cb.lastStateChange = time.Now()
	cb.nextRetryTime = cb.lastStateChange.Add(cb.config.Timeout)
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenCounter, 0)

	cb.logger.Warn("circuit breaker opened",
		zap.Time("retry_after", cb.nextRetryTime),
		zap.Int32("consecutive_failures", atomic.LoadInt32(&cb.consecutiveFailures)))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)
		cb.logger.Info("circuit breaker half-open")
	}
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)
		cb.logger.Info("circuit breaker closed")
	}
}

// Snapshot returns the state and window statistics.
func (cb *CircuitBreaker) Snapshot() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := cb.window.GetStats()
	return CircuitBreakerState{
		State:                cb.State().String(),
		LastStateChange:      cb.lastStateChange,
		ConsecutiveFailures:  atomic.LoadInt32(&cb.consecutiveFailures),
		ConsecutiveSuccesses: atomic.LoadInt32(&cb.consecutiveSuccesses),
		TotalRequests:        stats.TotalRequests,
		FailedRequests:       stats.FailedRequests,
		FailureRate:          stats.FailureRate,
		NextRetryTime:        cb.nextRetryTime,
	}
}

// SlidingWindow counts requests and failures in time buckets.
type SlidingWindow struct {
	buckets        []int64
	failureBuckets []int64
	bucketSize     time.Duration
	currentBucket  int
	lastUpdate     time.Time
	mu             sync.Mutex
}

// NewSlidingWindow creates a window of windowSize split into bucketSize buckets.
func NewSlidingWindow(bucketSize, windowSize time.Duration) *SlidingWindow {
	n := int(windowSize / bucketSize)
	if n < 1 {
		n = 1
	}
	return &SlidingWindow{
		buckets:        make([]int64, n),
		failureBuckets: make([]int64, n),
		bucketSize:     bucketSize,
		lastUpdate:     time.Now(),
	}
}

// RecordRequest adds one request to the current bucket.
func (sw *SlidingWindow) RecordRequest(success bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()
	sw.buckets[sw.currentBucket]++
	if !success {
		sw.failureBuckets[sw.currentBucket]++
	}
}

func (sw *SlidingWindow) advance() {
	now := time.Now()
	elapsed := now.Sub(sw.lastUpdate)
	if elapsed < sw.bucketSize {
		return
	}
	steps := min(int(elapsed/sw.bucketSize), len(sw.buckets))
	for i := 0; i < steps; i++ {
		sw.currentBucket = (sw.currentBucket + 1) % len(sw.buckets)
		sw.buckets[sw.currentBucket] = 0
		sw.failureBuckets[sw.currentBucket] = 0
	}
	sw.lastUpdate = now
}

// GetStats sums the window.
func (sw *SlidingWindow) GetStats() WindowStats {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	var total, failed int64
	for i := range sw.buckets {
		total += sw.buckets[i]
		failed += sw.failureBuckets[i]
	}
	rate := 0.0
	if total > 0 {
		rate = float64(failed) / float64(total)
	}
	return WindowStats{TotalRequests: total, FailedRequests: failed, FailureRate: rate}
}

// CircuitBreakerState represents the current state and statistics of a circuit breaker
type CircuitBreakerState struct {
	State                string    `json:"state"`
	LastStateChange      time.Time `json:"last_state_change"`
	ConsecutiveFailures  int32     `json:"consecutive_failures"`
	ConsecutiveSuccesses int32     `json:"consecutive_successes"`
	TotalRequests        int64     `json:"total_requests"`
	FailedRequests       int64     `json:"failed_requests"`
	FailureRate          float64   `json:"failure_rate"`
	NextRetryTime        time.Time `json:"next_retry_time,omitempty"`
}

// WindowStats represents statistics collected over a sliding time window
type WindowStats struct {
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	FailureRate    float64 `json:"failure_rate"`
}
