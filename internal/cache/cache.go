package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is used when a cache is created with a non-positive capacity
const DefaultCapacity = 100

// Cache is a bounded, insertion-ordered cache. Once it holds more than its
// capacity, the oldest inserted entry is evicted. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	order    *list.List
	entries  map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache holding at most capacity entries
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[K]*list.Element, capacity),
	}
}

// Get returns the value stored for key
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[K, V]).value, true
}

// Put stores value under key. Existing entries are never replaced; Put reports
// whether the value was stored.
func (c *Cache[K, V]) Put(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return false
	}

	c.entries[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})

	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[K, V]).key)
	}
	return true
}

// Len returns the number of cached entries
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Capacity returns the configured bound
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}
