// Package redis provides the Redis-backed implementation of the
// eligibility cache. All operations are fail-open: backend failures are
// logged and degrade to misses or no-ops so a Redis outage costs latency,
// never correctness.
package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskwell/assignd/internal/cache"
)

// NewClient creates a Redis client with short timeouts so a dead backend
// fast-fails instead of stalling request handlers.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     100,
	})
}

// Cache implements cache.Cache on top of a Redis client.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewCache creates a Redis-backed cache. If logger is nil, the default
// logger is used.
func NewCache(client *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client: client,
		logger: logger.With(slog.String("component", "redis_cache")),
	}
}

var _ cache.Cache = (*Cache)(nil)

// Get implements cache.Cache. Backend errors read as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}
	return value, true
}

// Set implements cache.Cache. Backend errors are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Delete implements cache.Cache. Backend errors are logged and dropped;
// the entry expires by TTL at worst.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache delete failed", "keys", keys, "error", err)
	}
}
