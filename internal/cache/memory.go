package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Cache implementation with the same TTL and
// whole-entry invalidation semantics as the Redis backend. It backs unit
// tests and cacheless single-node deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is swappable in tests to exercise TTL expiry deterministically.
	now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Cache. Entries at or past their TTL are evicted and read
// as misses, so a value older than its TTL is never served.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}

	// Copy so callers cannot mutate the cached value in place.
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: stored, expiresAt: m.now().Add(ttl)}
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
}

// Len returns the number of live entries, expired ones included until
// their next read. Used by tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Cache = (*Memory)(nil)
