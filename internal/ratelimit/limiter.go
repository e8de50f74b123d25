package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const baseBackoff = 500 * time.Millisecond

// Limiter paces remote calls. Fetches run strictly one at a time, so the
// limiter allows no burst: calls are spaced evenly at the configured rate,
// and any backoff accumulated from rate-limit responses is served before
// the next call.
type Limiter struct {
	limiter *rate.Limiter
	name    string
	mu      sync.Mutex
	backoff time.Duration
	maxWait time.Duration
}

// NewLimiter creates a new rate limiter.
// perMinute specifies the number of requests allowed per minute.
func NewLimiter(name string, perMinute int) *Limiter {
	rps := float64(perMinute) / 60.0

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		name:    name,
		maxWait: 2 * time.Minute,
	}
}

// Wait blocks until the next call may proceed or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	backoff := l.backoff
	l.mu.Unlock()

	if backoff > 0 {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.limiter.Wait(ctx)
}

// Allow reports whether an event may happen now.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SignalRateLimited should be called when a 429 response is received.
// Each signal doubles the backoff served before the next call.
func (l *Limiter) SignalRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backoff == 0 {
		l.backoff = baseBackoff
		return
	}
	l.backoff *= 2
	if l.backoff > l.maxWait {
		l.backoff = l.maxWait
	}
}

// ResetBackoff clears the backoff after a successful request.
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = 0
}

// GetBackoff returns the current backoff duration.
func (l *Limiter) GetBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

// Name returns the limiter name.
func (l *Limiter) Name() string {
	return l.name
}
