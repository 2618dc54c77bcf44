package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = 10 * time.Minute

// MemoryCache keeps evidence payloads in process. Values are copied in and
// out so callers cannot mutate a cached response, and the entry count is
// capped by evicting whatever expires soonest.
type MemoryCache struct {
	cache      *gocache.Cache
	maxEntries int
	mu         sync.Mutex // serializes inserts against the cap
}

// NewMemoryCache creates a memory cache; maxEntries <= 0 means unbounded
func NewMemoryCache(defaultTTL time.Duration, maxEntries int) *MemoryCache {
	return &MemoryCache{
		cache:      gocache.New(defaultTTL, memoryCleanupInterval),
		maxEntries: maxEntries,
	}
}

// Get returns a copy of the cached value
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	return append([]byte(nil), val.([]byte)...), true
}

// Set stores a copy of value with the given TTL (0 uses the default)
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := append([]byte(nil), value...)

	if c.maxEntries <= 0 {
		c.cache.Set(key, stored, ttl) // 0 is gocache.DefaultExpiration
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache.Get(key); !exists && c.cache.ItemCount() >= c.maxEntries {
		c.cache.DeleteExpired()
		for c.cache.ItemCount() >= c.maxEntries {
			c.evictSoonest()
		}
	}
	c.cache.Set(key, stored, ttl)
	return nil
}

// evictSoonest drops the entry closest to expiry; entries without an
// expiry go last
func (c *MemoryCache) evictSoonest() {
	var (
		victim string
		soon   int64
		found  bool
	)
	for k, item := range c.cache.Items() {
		exp := item.Expiration
		if exp == 0 {
			exp = 1<<63 - 1
		}
		if !found || exp < soon {
			victim, soon, found = k, exp, true
		}
	}
	if !found {
		return
	}
	c.cache.Delete(victim)
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes all values from the cache
func (c *MemoryCache) Clear(_ context.Context) error {
	c.cache.Flush()
	return nil
}

// Len returns the number of live entries
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}
