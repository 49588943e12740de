// Package cache provides a small LRU cache with TTL support. The cascade
// uses it as a fast secondary read path for exact-match lookups; entries
// expire on their own, so correctness never depends on cache contents.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a fixed-capacity least-recently-used cache with per-entry TTL.
type LRU[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]*entry[K, V]
	order      *list.List
	capacity   int
	defaultTTL time.Duration
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	element   *list.Element
}

// NewLRU creates a cache holding at most capacity entries.
func NewLRU[K comparable, V any](capacity int, defaultTTL time.Duration) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 500
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRU[K, V]{
		entries:    make(map[K]*entry[K, V]),
		order:      list.New(),
		capacity:   capacity,
		defaultTTL: defaultTTL,
	}
}

// Get returns the value for key if present and unexpired.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.remove(e)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

// Set stores key with the default TTL, evicting the oldest entry at capacity.
func (c *LRU[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores key with an explicit TTL.
func (c *LRU[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*entry[K, V]))
	}

	e := &entry[K, V]{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
}

// Remove drops key from the cache.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

// Len returns the current entry count, including not-yet-collected expired
// entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all entries.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[K, V])
	c.order.Init()
}

// remove must be called with the lock held.
func (c *LRU[K, V]) remove(e *entry[K, V]) {
	delete(c.entries, e.key)
	c.order.Remove(e.element)
}
