package clients

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter is a token bucket: tokens are added at a constant rate up to
// burst and each request consumes one.
type RateLimiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time

	allowed int64
	blocked int64

	mu sync.Mutex
}

// RateLimiterStats reports the limiter's counters.
type RateLimiterStats struct {
	Rate            float64 `json:"rate"`
	Burst           int     `json:"burst"`
	AllowedRequests int64   `json:"allowed_requests"`
	BlockedRequests int64   `json:"blocked_requests"`
	CurrentTokens   float64 `json:"current_tokens"`
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{rate: rate, burst: burst, tokens: float64(burst), lastTime: time.Now()}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		atomic.AddInt64(&rl.allowed, 1)
		return true
	}
	atomic.AddInt64(&rl.blocked, 1)
	return false
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			atomic.AddInt64(&rl.allowed, 1)
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			atomic.AddInt64(&rl.blocked, 1)
			return ctx.Err()
		}
	}
}

func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
	rl.lastTime = now
}

// Stats returns the current counters.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateLimiterStats{
		Rate:            rl.rate,
		Burst:           rl.burst,
		AllowedRequests: atomic.LoadInt64(&rl.allowed),
		BlockedRequests: atomic.LoadInt64(&rl.blocked),
		CurrentTokens:   rl.tokens,
	}
}
