package ratelimiter

import (
	"sync"
	"time"
)

// TokenBucket is a RateLimiter that refills lazily on each Allow call,
// permitting bursts up to the bucket capacity.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket creates a full bucket that refills at rate tokens per
// second up to capacity.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	return &TokenBucket{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		lastFill: time.Now(),
	}
}

// Allow consumes one token when available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(b.lastFill); elapsed > 0 {
		b.tokens += elapsed.Seconds() * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastFill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
