package utils

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheItem[V any] struct {
	data      V
	expiresAt time.Time
}

// TTLCache is a bounded LRU whose entries also expire.
type TTLCache[V any] struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cacheItem[V]]
	now func() time.Time
}

func NewTTLCache[V any](size int) (*TTLCache[V], error) {
	l, err := lru.New[string, cacheItem[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create LRU cache: %w", err)
	}
	return &TTLCache[V]{lru: l, now: time.Now}, nil
}

// SetClock replaces the time source; tests use it to step past expiry.
func (c *TTLCache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *TTLCache[V]) Set(key string, data V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, cacheItem[V]{data: data, expiresAt: c.now().Add(ttl)})
}

// Take returns the value and removes it, so a key can be consumed only once.
// Expired entries are removed and reported missing.
func (c *TTLCache[V]) Take(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, ok := c.lru.Peek(key)
	if !ok {
		return zero, false
	}
	c.lru.Remove(key)
	if !c.now().Before(item.expiresAt) {
		return zero, false
	}
	return item.data, true
}
