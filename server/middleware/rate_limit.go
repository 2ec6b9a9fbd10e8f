package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	mu     sync.RWMutex
	limits map[string]*rate.Limiter
	every  rate.Limit
	burst  int
}

// NewRateLimiter allows perSecond events per key with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		every:  rate.Limit(perSecond),
		burst:  burst,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.limits[key]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rl.every, rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if an event is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait blocks until an event is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// Forget drops the bucket of key, typically when its connection closes.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.limits, key)
	rl.mu.Unlock()
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limits)
}
