// Package cache defines the short-TTL eligibility cache the engine reads
// through. The cache is strictly an optimization: every operation is
// fail-open, so an unavailable backend degrades latency, never
// correctness. Entries are whole values; invalidation always removes the
// entire entry rather than patching it.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Default TTLs per key family. my_tasks is owned by the surrounding CRUD
// layer; the engine only invalidates it alongside active counts so both
// views stay consistent.
const (
	DefaultEligibleUsersTTL = 120 * time.Second
	DefaultActiveCountTTL   = 30 * time.Second
	DefaultMyTasksTTL       = 60 * time.Second
)

// KeyEligibleUsers is the cache key holding the ranked eligible pool for a
// task.
func KeyEligibleUsers(taskID int64) string {
	return fmt.Sprintf("task:%d:eligible_users", taskID)
}

// KeyActiveCount is the cache key holding a user's active-task count.
func KeyActiveCount(userID int64) string {
	return fmt.Sprintf("user:%d:active_count", userID)
}

// KeyMyTasks is the cache key for a user's task listing, owned by the
// surrounding layer but invalidated here on assignment changes.
func KeyMyTasks(userID int64) string {
	return fmt.Sprintf("user:%d:my_tasks", userID)
}

// Cache is a read-through byte cache with TTL-based passive expiry and
// explicit invalidation. Implementations never surface backend errors:
// a failed Get is a miss, a failed Set or Delete is a logged no-op. This
// matches the engine's contract that correctness must not depend on cache
// availability.
type Cache interface {
	// Get returns the cached value and true on a hit. Expired entries and
	// backend failures both read as misses.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores the value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string)
}
