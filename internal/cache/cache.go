// Package cache is a small in-process TTL memoization layer.
//
// Entries expire lazily on read and are pruned on write. When MaxEntries is
// reached the oldest entry is evicted.
package cache

import (
	"sync"
	"time"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 1024
)

type entry[V any] struct {
	v        V
	storedAt time.Time
	expires  time.Time
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu  sync.Mutex
	m   map[string]entry[V]
	ttl time.Duration
	max int
	now func() time.Time
}

type Option[V any] func(*Cache[V])

// WithClock injects the time source.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMaxEntries bounds the cache size. n <= 0 keeps the default.
func WithMaxEntries[V any](n int) Option[V] {
	return func(c *Cache[V]) {
		if n > 0 {
			c.max = n
		}
	}
}

// New creates a cache whose entries live for ttl (DefaultTTL when ttl <= 0).
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache[V]{
		m:   make(map[string]entry[V]),
		ttl: ttl,
		max: DefaultMaxEntries,
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !now.Before(e.expires) {
		delete(c.m, key)
		var zero V
		return zero, false
	}
	return e.v, true
}

func (c *Cache[V]) Set(key string, v V) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	if _, exists := c.m[key]; !exists && len(c.m) >= c.max {
		c.evictOldestLocked()
	}
	c.m[key] = entry[V]{v: v, storedAt: now, expires: now.Add(c.ttl)}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// GetOrLoad returns the cached value or calls load and caches a successful result.
// Concurrent misses may call load more than once; the last writer wins.
func (c *Cache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	clear(c.m)
	c.mu.Unlock()
}

// Len counts live entries.
func (c *Cache[V]) Len() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	return len(c.m)
}

// SetTTL changes the lifetime of entries stored from now on.
func (c *Cache[V]) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

func (c *Cache[V]) pruneLocked(now time.Time) {
	for k, e := range c.m {
		if !now.Before(e.expires) {
			delete(c.m, k)
		}
	}
}

func (c *Cache[V]) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.m {
		if !found || e.storedAt.Before(oldest) {
			oldestKey, oldest, found = k, e.storedAt, true
		}
	}
	if found {
		delete(c.m, oldestKey)
	}
}
