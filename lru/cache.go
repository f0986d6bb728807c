// Package lru implements a generic, thread-safe LRU cache bounded by entry
// count and, optionally, by total weight.
//
// Get, Put and Delete are O(1) apart from the evictions a Put triggers.
package lru

import "sync"

type node[K comparable, V any] struct {
	key    K
	val    V
	weight int64
	prev   *node[K, V]
	next   *node[K, V]
}

// Cache is a generic, thread-safe LRU cache.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int
	maxWeight int64
	weigh     func(V) int64
	weight    int64
	items     map[K]*node[K, V]
	head      *node[K, V] // most recently used (sentinel)
	tail      *node[K, V] // least recently used (sentinel)
	stats     Stats
}

// Stats counts cache traffic and current occupancy.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	// Rejected counts values heavier than the whole weight budget.
	Rejected uint64
	Entries  int
	Weight   int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithMaxWeight bounds the summed weigh(v) of all entries by max. A value
// whose own weight exceeds max is never stored.
func WithMaxWeight[K comparable, V any](max int64, weigh func(V) int64) Option[K, V] {
	return func(c *Cache[K, V]) {
		if max > 0 && weigh != nil {
			c.maxWeight = max
			c.weigh = weigh
		}
	}
}

// Bytes weighs a byte slice by its length.
func Bytes(b []byte) int64 { return int64(len(b)) }

// New creates an LRU cache holding at most capacity entries.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value by key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}

	c.stats.Hits++
	c.moveToFront(n)
	return n.val, true
}

// Put inserts or replaces the value for key and evicts least recently used
// entries until both bounds hold. It reports false when val alone is heavier
// than the weight budget; any previous value for key is dropped in that case.
func (c *Cache[K, V]) Put(key K, val V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var w int64
	if c.weigh != nil {
		w = c.weigh(val)
	}
	if c.maxWeight > 0 && w > c.maxWeight {
		if n, ok := c.items[key]; ok {
			c.unlink(n)
		}
		c.stats.Rejected++
		return false
	}

	if n, ok := c.items[key]; ok {
		c.weight += w - n.weight
		n.val, n.weight = val, w
		c.moveToFront(n)
	} else {
		n := &node[K, V]{key: key, val: val, weight: w}
		c.items[key] = n
		c.weight += w
		c.pushFront(n)
	}

	for len(c.items) > c.capacity || (c.maxWeight > 0 && c.weight > c.maxWeight) {
		c.unlink(c.tail.prev)
		c.stats.Evictions++
	}
	return true
}

// Delete removes a key from the cache. Returns true if the key existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	return true
}

// Len returns the current number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.items)
	s.Weight = c.weight
	return s
}

// caller must hold mu for everything below

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	c.remove(n)
	delete(c.items, n.key)
	c.weight -= n.weight
}

func (c *Cache[K, V]) remove(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
