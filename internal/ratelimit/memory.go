package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter serializes callers within one process behind a minimum
// inter-call interval per key
type MemoryLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	limit    rate.Limit
	now      func() time.Time
}

// NewMemoryLimiter creates an in-process limiter allowing maxRPS calls per key
func NewMemoryLimiter(maxRPS float64) *MemoryLimiter {
	return &MemoryLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(maxRPS),
		now:      time.Now,
	}
}

// Reserve books the next slot for key
func (l *MemoryLimiter) Reserve(ctx context.Context, key string) (time.Time, error) {
	at, _, err := l.reserve(ctx, key)
	return at, err
}

// Acquire books the next slot for key and waits for it; a cancelled wait
// gives the slot back
func (l *MemoryLimiter) Acquire(ctx context.Context, key string) error {
	at, r, err := l.reserve(ctx, key)
	if err != nil {
		return err
	}

	if err := waitUntil(ctx, key, l.now, at); err != nil {
		r.CancelAt(l.now())
		return err
	}
	return nil
}

func (l *MemoryLimiter) reserve(ctx context.Context, key string) (time.Time, *rate.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, nil, err
	}

	now := l.now()
	r := l.getLimiter(key).ReserveN(now, 1)
	if !r.OK() {
		return time.Time{}, nil, fmt.Errorf("rate limit reservation refused for %s", key)
	}
	return now.Add(r.DelayFrom(now)), r, nil
}

// getLimiter returns the rate limiter for a key
func (l *MemoryLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	// Burst 1 keeps consecutive grants at least one interval apart
	limiter = rate.NewLimiter(l.limit, 1)
	l.limiters[key] = limiter

	return limiter
}

// SetKeyRate sets a custom rate for a specific key
func (l *MemoryLimiter) SetKeyRate(key string, maxRPS float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters[key] = rate.NewLimiter(rate.Limit(maxRPS), 1)
}
