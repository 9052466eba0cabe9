package cache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTTL     = 5 * time.Minute
	defaultMaxSize = 1000
)

// entry holds a cached value and the time it was stored
type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a TTL and size-bounded in-memory cache. Expired entries are
// evicted lazily on Get; overflow evicts the entry with the oldest store
// time via a linear scan. The scan is an accepted tradeoff at the target
// scale of a few thousand entries.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	maxSize int
	logger  *logrus.Logger
	now     func() time.Time
}

// New creates a cache with the given TTL and maximum entry count.
// Non-positive values fall back to the defaults.
func New[V any](ttl time.Duration, maxSize int, logger *logrus.Logger) *Cache[V] {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	return &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		logger:  logger,
		now:     time.Now,
	}
}

// Set stores a value, evicting the oldest entry first when at capacity
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		if oldest, ok := c.oldestKey(); ok {
			delete(c.entries, oldest)
			c.logger.WithField("key", oldest).Debug("Evicted oldest cache entry")
		}
	}

	c.entries[key] = entry[V]{
		value:    value,
		storedAt: c.now(),
	}
}

// Get returns the cached value for key. An entry older than the TTL is
// removed and reported as missing.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V

	e, exists := c.entries[key]
	if !exists {
		return zero, false
	}

	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return zero, false
	}

	return e.value, true
}

// Delete removes a single entry
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Clear removes all entries
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry[V])
}

// Len returns the current entry count
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// oldestKey finds the entry with the smallest storedAt. Caller must hold mu.
func (c *Cache[V]) oldestKey() (string, bool) {
	var oldest string
	var oldestAt time.Time
	found := false

	for key, e := range c.entries {
		if !found || e.storedAt.Before(oldestAt) {
			oldest = key
			oldestAt = e.storedAt
			found = true
		}
	}

	return oldest, found
}
