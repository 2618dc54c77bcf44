package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// reserveScript books a slot in one atomic step: the stored value is the
// next free instant in unix ms, and the caller gets max(now, stored). The
// key outlives the last booked slot by ttl_ms so a backlog never expires.
const reserveScript = `
local now_ms = tonumber(ARGV[1])
local interval_ms = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])
local next_allowed_ms = now_ms
local current = redis.call('GET', KEYS[1])
if current then
  local stored = tonumber(current)
  if stored and stored > next_allowed_ms then
    next_allowed_ms = stored
  end
end
redis.call('PSETEX', KEYS[1], next_allowed_ms - now_ms + interval_ms + ttl_ms, tostring(next_allowed_ms + interval_ms))
return next_allowed_ms
`

// RedisLimiter shares one "next allowed instant" per key across processes
type RedisLimiter struct {
	client     redis.UniversalClient
	script     *redis.Script
	prefix     string
	intervalMS int64
	ttlMS      int64
	now        func() time.Time
}

// NewRedisLimiter creates a distributed limiter allowing maxRPS calls per key
func NewRedisLimiter(client redis.UniversalClient, maxRPS float64, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}

	intervalMS := intervalMillis(maxRPS)

	// Idle keys expire this long after their last booked slot
	ttlMS := int64(float64(intervalMS) * maxRPS * 4)
	if ttlMS < 2000 {
		ttlMS = 2000
	}

	return &RedisLimiter{
		client:     client,
		script:     redis.NewScript(reserveScript),
		prefix:     prefix,
		intervalMS: intervalMS,
		ttlMS:      ttlMS,
		now:        time.Now,
	}
}

// Reserve books the next slot for key against the shared store
func (l *RedisLimiter) Reserve(ctx context.Context, key string) (time.Time, error) {
	nowMS := l.now().UnixMilli()

	allowedMS, err := l.script.Run(ctx, l.client, []string{l.storeKey(key)}, nowMS, l.intervalMS, l.ttlMS).Int64()
	if err != nil {
		return time.Time{}, fmt.Errorf("reserve slot for %s: %w", key, err)
	}

	return time.UnixMilli(allowedMS), nil
}

// Acquire books the next slot for key and waits for it
func (l *RedisLimiter) Acquire(ctx context.Context, key string) error {
	at, err := l.Reserve(ctx, key)
	if err != nil {
		return err
	}
	return waitUntil(ctx, key, l.now, at)
}

func (l *RedisLimiter) storeKey(key string) string {
	return l.prefix + ":" + key + ":rps"
}
