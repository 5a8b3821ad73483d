package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx is done
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// TokenBucket spreads requests evenly over a window, allowing short bursts
type TokenBucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	burst    int
}

// NewTokenBucket allows requests per window, with bursts of up to burst requests.
// A burst below 1 is treated as 1.
func NewTokenBucket(requests int, window time.Duration, burst int) *TokenBucket {
	interval := time.Millisecond
	if requests > 0 && window > 0 {
		if iv := window / time.Duration(requests); iv > 0 {
			interval = iv
		}
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		limiter:  rate.NewLimiter(rate.Every(interval), burst),
		interval: interval,
		burst:    burst,
	}
}

// PerMinute is shorthand for NewTokenBucket(requests, time.Minute, burst)
func PerMinute(requests, burst int) *TokenBucket {
	return NewTokenBucket(requests, time.Minute, burst)
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Reset refills the bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(rate.Every(tb.interval), tb.burst)
}

// Interval returns the steady-state spacing between requests
func (tb *TokenBucket) Interval() time.Duration {
	return tb.interval
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Allow() bool                { return true }
func (Unlimited) Wait(context.Context) error { return nil }
func (Unlimited) Reset()                     {}
