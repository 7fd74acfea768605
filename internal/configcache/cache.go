// Package configcache implements the config server's TTL-bounded cache
// (spec.md §4.9), keyed by "kind:name" (e.g. "archetype:node-fullstack").
// It is grounded directly on the teacher's internal/auth.TokenManager: a
// RWMutex-guarded map with wall-clock expiry, generalized from API tokens
// to cached config payloads.
package configcache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Entry is one cached value plus its insertion time.
type Entry struct {
	Kind       string
	Name       string
	Value      any
	InsertedAt time.Time
}

func (e Entry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.InsertedAt) > ttl
}

// Cache is a TTL-bounded map of config payloads. Reads take an RLock;
// writes take an exclusive Lock, matching TokenManager's concurrency
// model.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	logger  *slog.Logger
}

// New creates a Cache with the given TTL. A non-positive ttl disables
// expiry entirely (entries never go stale), matching TokenManager's
// "ttl <= 0 defaults" guard but here treated as "cache forever" since a
// zero TTL config cache has a sensible reading (no remote refresh desired).
func New(ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		logger:  logger.With("component", "configcache.Cache"),
	}
}

func key(kind, name string) string { return fmt.Sprintf("%s:%s", kind, name) }

// Get returns the cached value for (kind, name) if present and unexpired.
func (c *Cache) Get(kind, name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key(kind, name)]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && entry.expired(c.ttl, time.Now()) {
		return nil, false
	}
	return entry.Value, true
}

// Set stores value for (kind, name), replacing any prior entry.
func (c *Cache) Set(kind, name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(kind, name)] = Entry{
		Kind:       kind,
		Name:       name,
		Value:      value,
		InsertedAt: time.Now(),
	}
}

// Invalidate eagerly removes (kind, name) from the cache, e.g. on receipt
// of a signed admin request (spec.md §4.9).
func (c *Cache) Invalidate(kind, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(kind, name))
	c.logger.Info("cache entry invalidated", "kind", kind, "name", name)
}

// AdminSnapshot returns every currently cached entry, including expired
// ones, for observability (spec.md's "administrative endpoint must expose
// the current cache content").
func (c *Cache) AdminSnapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
