// Package ratelimit provides a per-client token bucket. Buckets refill at a
// fixed rate up to a capacity; each request spends one token.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Bucket defaults.
const (
	DefaultCapacity   = 60
	DefaultRefillRate = 1 // tokens per second
)

// Limiter answers whether a keyed client may proceed. Backends live under
// contrib/ratelimit.
type Limiter interface {
	// Allow spends one token for key if available. The second return is the
	// token count remaining after the call.
	Allow(ctx context.Context, key string) (bool, int, error)
}

// Refill computes the new token count after elapsed time as
// floor(min(capacity, tokens + elapsed*rate)). The floor can briefly
// under-count after sub-second bursts.
func Refill(tokens float64, elapsed time.Duration, capacity, rate float64) int {
	refilled := math.Min(capacity, tokens+elapsed.Seconds()*rate)
	return int(math.Floor(refilled))
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// InMemory is a process-local token-bucket limiter.
type InMemory struct {
	capacity float64
	rate     float64

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewInMemory creates a limiter with the given capacity and per-second
// refill rate. Non-positive arguments use the defaults.
func NewInMemory(capacity, rate float64) *InMemory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if rate <= 0 {
		rate = DefaultRefillRate
	}
	return &InMemory{
		capacity: capacity,
		rate:     rate,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (l *InMemory) WithClock(now func() time.Time) *InMemory {
	l.now = now
	return l
}

// Allow implements Limiter.
func (l *InMemory) Allow(ctx context.Context, key string) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	} else {
		b.tokens = float64(Refill(b.tokens, now.Sub(b.lastRefill), l.capacity, l.rate))
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false, int(b.tokens), nil
	}
	b.tokens--
	return true, int(b.tokens), nil
}
