package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

type cacheEntry[V any] struct {
	key   string
	value V
}

// LRUCache is a mutex-guarded fixed-size LRU cache.
// A capacity <= 0 disables it: Put is ignored and Get always misses without
// counting.
type LRUCache[V any] struct {
	mu         sync.Mutex
	capacity   int
	lruList    *list.List
	cacheItems map[string]*list.Element
	onEvicted  func(key string, value V)
	onHit      func(key string)
	onMiss     func(key string)

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Interface[int] = (*LRUCache[int])(nil)

// NewLRUCache creates a cache. The callbacks are optional and run with the
// cache lock held, so they must not call back into the cache.
func NewLRUCache[V any](capacity int, onEvicted func(key string, value V), onHit, onMiss func(key string)) *LRUCache[V] {
	return &LRUCache[V]{
		capacity:   capacity,
		lruList:    list.New(),
		cacheItems: make(map[string]*list.Element),
		onEvicted:  onEvicted,
		onHit:      onHit,
		onMiss:     onMiss,
	}
}

// Get retrieves a value and marks it most recently used.
func (c *LRUCache[V]) Get(key string) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return value, false
	}

	if elem, ok := c.cacheItems[key]; ok {
		c.hits.Add(1)
		if c.onHit != nil {
			c.onHit(key)
		}
		c.lruList.MoveToFront(elem)
		return elem.Value.(*cacheEntry[V]).value, true
	}

	c.misses.Add(1)
	if c.onMiss != nil {
		c.onMiss(key)
	}
	return value, false
}

// Put adds or replaces a value, evicting the least recently used entry when full.
func (c *LRUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}

	if elem, ok := c.cacheItems[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*cacheEntry[V]).value = value
		return
	}

	if c.lruList.Len() >= c.capacity {
		c.evict()
	}

	element := c.lruList.PushFront(&cacheEntry[V]{key: key, value: value})
	c.cacheItems[key] = element
}

// Remove drops key without calling onEvicted. It reports whether key was present.
func (c *LRUCache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cacheItems[key]
	if !ok {
		return false
	}
	c.lruList.Remove(elem)
	delete(c.cacheItems, key)
	return true
}

// Len returns the current number of items in the cache.
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// evict removes the least recently used item from the cache.
// Must be called with c.mu locked.
func (c *LRUCache[V]) evict() {
	if elem := c.lruList.Back(); elem != nil {
		removed := c.lruList.Remove(elem).(*cacheEntry[V])
		delete(c.cacheItems, removed.key)
		if c.onEvicted != nil {
			c.onEvicted(removed.key, removed.value)
		}
	}
}

// Clear removes all entries, calling onEvicted for each, and resets the counters.
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvicted != nil {
		for _, elem := range c.cacheItems {
			entry := elem.Value.(*cacheEntry[V])
			c.onEvicted(entry.key, entry.value)
		}
	}
	c.lruList = list.New()
	c.cacheItems = make(map[string]*list.Element)
	c.hits.Store(0)
	c.misses.Store(0)
}

// GetHitRate returns hits / (hits + misses), or 0 before any lookup.
func (c *LRUCache[V]) GetHitRate() float64 {
	hits := float64(c.hits.Load())
	misses := float64(c.misses.Load())
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}

// Stats returns the hit and miss counters.
func (c *LRUCache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
