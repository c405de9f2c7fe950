package cache

import (
	"sync"
	"time"
)

// entry stores one cached payload with its capture time.
type entry[V any] struct {
	value      V
	capturedAt time.Time
}

// Cache is a keyed TTL cache. An entry is served only while
// now-capturedAt < TTL; stale entries stay in the map until the next Set for
// the same key overwrites them. There is no capacity bound.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]entry[V]
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a cache whose entries are valid for ttl. A ttl <= 0 disables
// reads: every Get misses.
func New[V any](ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{ttl: ttl, now: o.now, items: make(map[string]entry[V])}
}

// TTL returns the configured time-to-live.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Get returns the value stored under key if it is still fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c.ttl <= 0 {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.capturedAt) >= c.ttl {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, stamped with the current time.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, capturedAt: c.now()}
	c.mu.Unlock()
}

// Peek returns the raw entry regardless of age.
func (c *Cache[V]) Peek(key string) (value V, capturedAt time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	return e.value, e.capturedAt, ok
}

// Len counts stored entries, stale ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
