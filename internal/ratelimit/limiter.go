package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/victorx64/biohack-debunker/internal/metrics"
	"github.com/victorx64/biohack-debunker/internal/model"
)

// Limiter grants call slots per provider key so that the realized call
// rate never exceeds the configured maximum
type Limiter interface {
	// Reserve atomically books the next slot and returns when it starts
	Reserve(ctx context.Context, key string) (time.Time, error)

	// Acquire books a slot and blocks until it starts
	Acquire(ctx context.Context, key string) error
}

// New creates a limiter for the configured backend
func New(cfg model.RateLimitConfig, client redis.UniversalClient) (Limiter, error) {
	if cfg.MaxRPS <= 0 {
		return nil, fmt.Errorf("max_rps must be positive, got %v", cfg.MaxRPS)
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryLimiter(cfg.MaxRPS), nil

	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis rate limiter requires a redis client")
		}
		return NewRedisLimiter(client, cfg.MaxRPS, cfg.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("unknown rate limiter backend: %s (supported: memory, redis)", cfg.Backend)
	}
}

// Interval returns the minimum spacing between two calls at maxRPS
func Interval(maxRPS float64) time.Duration {
	if maxRPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / maxRPS)
}

// intervalMillis is Interval rounded up to whole milliseconds, never below 1
func intervalMillis(maxRPS float64) int64 {
	return int64(math.Max(1, math.Ceil(1000/maxRPS)))
}

// waitUntil sleeps until the reserved instant or until ctx is done
func waitUntil(ctx context.Context, key string, now func() time.Time, at time.Time) error {
	delay := at.Sub(now())
	if delay < 0 {
		delay = 0
	}
	metrics.RateLimitWait.WithLabelValues(key).Observe(delay.Seconds())

	if delay == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
