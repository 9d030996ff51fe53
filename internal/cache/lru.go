// Package cache provides the LRU cache used by the read-through store
// decorator.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Kind discriminates what a cache entry holds.
type Kind uint8

const (
	KindPoint Kind = iota
	KindNeighbors
	KindMetadata
)

// Key identifies a cached value.
type Key struct {
	Kind  Kind
	ID    uint64
	Layer int
}

// LRU is a fixed-capacity least-recently-used cache. Safe for concurrent use.
type LRU struct {
	mu        sync.Mutex
	capacity  int
	items     map[Key]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value any
}

// NewLRU creates a new LRU cache holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
	}
}

// Get returns a cached value.
func (c *LRU) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a value, evicting the least-recently-used entry if full.
func (c *LRU) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		ent.Value.(*entry).value = value
		return
	}

	ent := c.evictList.PushFront(&entry{key: key, value: value})
	c.items[key] = ent

	if c.evictList.Len() > c.capacity {
		oldest := c.evictList.Back()
		if oldest != nil {
			c.evictList.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Invalidate removes every entry for which match returns true.
func (c *LRU) Invalidate(match func(Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, ent := range c.items {
		if match(key) {
			c.evictList.Remove(ent)
			delete(c.items, key)
		}
	}
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Stats returns cumulative hit/miss counters.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
