package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// CacheKey generates a namespaced cache key from an arbitrary string
func CacheKey(namespace, raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return "debunker:v1:" + namespace + ":" + hex.EncodeToString(hash[:])
}

// New creates the cache backend named in cfg. The redis client is required
// for the redis and layered backends.
func New(cfg model.CacheConfig, client redis.UniversalClient) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(cfg.TTL, cfg.MaxEntries), nil

	case "disk":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("cache backend disk requires cache.dir")
		}
		return NewDiskCache(cfg.Dir, cfg.TTL), nil

	case "redis":
		if client == nil {
			return nil, fmt.Errorf("cache backend redis requires a redis client")
		}
		return NewRedisCache(client, cfg.TTL), nil

	case "layered":
		if client == nil {
			return nil, fmt.Errorf("cache backend layered requires a redis client")
		}
		return NewLayeredCache(NewMemoryCache(cfg.TTL, cfg.MaxEntries), NewRedisCache(client, cfg.TTL)), nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: memory, disk, redis, layered)", cfg.Backend)
	}
}
