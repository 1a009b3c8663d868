package executor

import (
	"context"
	"sync"
	"time"

	"trigger-engine-go/order"
)

// RateLimiter paces swap submissions so bursts of simultaneous triggers
// do not overwhelm the downstream RPC endpoint.
type RateLimiter interface {
	Wait()
}

// TokenBucketLimiter is a simple token bucket.
type TokenBucketLimiter struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
	}
}

func (l *TokenBucketLimiter) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	// l.last can sit in the future when a waiter pre-claimed the token
	// accruing during its sleep; no new tokens until that point passes.
	if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
		l.last = now
		l.tokens += elapsed * l.rate
		if l.tokens > float64(l.burst) {
			l.tokens = float64(l.burst)
		}
	}
	if l.tokens >= 1 {
		l.tokens -= 1
		return
	}
	sleep := time.Duration((1-l.tokens)/l.rate*float64(time.Second)) + time.Millisecond
	// Consume exactly one token: the fraction on hand plus the remainder
	// accruing during the sleep. Advancing the clock past the wake time
	// keeps that remainder from being issued to anyone else.
	l.tokens = 0
	l.last = now.Add(sleep)
	l.mu.Unlock()
	time.Sleep(sleep)
	l.mu.Lock()
}

// RateLimited wraps an executor with a limiter.
type RateLimited struct {
	Inner   SwapExecutor
	Limiter RateLimiter
}

func (r RateLimited) Execute(ctx context.Context, o *order.Order) (Result, error) {
	if r.Limiter != nil {
		r.Limiter.Wait()
	}
	return r.Inner.Execute(ctx, o)
}
