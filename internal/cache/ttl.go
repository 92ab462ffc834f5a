package cache

import (
	"container/list"
	"sync"
	"time"
)

// TTL is a bounded cache with per-entry expiry and LRU eviction. Safe for
// concurrent use. The zero duration is not special-cased: entries with a
// zero TTL expire immediately.
type TTL[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	order    *list.List
	now      func() time.Time

	hits   int64
	misses int64
}

type item[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

type Option[K comparable, V any] func(*TTL[K, V])

// WithClock overrides the time source. Tests use this to expire entries
// without sleeping.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *TTL[K, V]) { c.now = now }
}

func NewTTL[K comparable, V any](capacity int, ttl time.Duration, opts ...Option[K, V]) *TTL[K, V] {
	c := &TTL[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value if present and unexpired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	it := elem.Value.(*item[K, V])
	if !c.now().Before(it.expiresAt) {
		c.remove(elem)
		c.misses++
		var zero V
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return it.value, true
}

// Set stores value under key, restarting its TTL window.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		it := elem.Value.(*item[K, V])
		it.value = value
		it.expiresAt = c.now().Add(c.ttl)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}

	c.items[key] = c.order.PushFront(&item[K, V]{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Delete drops the entry for key if present.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
}

func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *TTL[K, V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *TTL[K, V]) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*item[K, V]).key)
}
