// Package cache is a small TTL cache used to take repeated lookups off
// hot paths, such as session checks on per-input-event gating.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with per-entry TTL.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache. A background janitor removes expired entries so
// the map does not grow with dead keys.
func New(defaultTTL time.Duration) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *Cache) janitor() {
	interval := c.defaultTTL
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// GetOrSet returns the cached value, or runs fallback and caches its
// result. Concurrent misses may run fallback more than once; the last
// write wins, which is fine for read-through use.
func (c *Cache) GetOrSet(ctx context.Context, key string, fallback func(context.Context) (interface{}, error)) (interface{}, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := fallback(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, value)
	return value, nil
}

// Len returns the number of entries, expired ones included until the
// janitor runs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the janitor.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
