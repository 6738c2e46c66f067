package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// CacheConfig controls the behavior of an LRUCache.
type CacheConfig struct {
	// Capacity is the maximum number of entries. Must be positive.
	Capacity int
	// TTL is the entry lifetime. Zero means entries never expire.
	TTL time.Duration
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	expiration time.Time
}

// LRUCache is a generic, thread-safe LRU cache with optional TTL eviction.
type LRUCache[K comparable, V any] struct {
	config CacheConfig
	ll     *list.List
	cache  map[K]*list.Element
	lock   sync.Mutex
}

// NewLRUCache creates an LRU cache with the given configuration.
func NewLRUCache[K comparable, V any](config CacheConfig) (*LRUCache[K, V], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive")
	}
	return &LRUCache[K, V]{
		config: config,
		ll:     list.New(),
		cache:  make(map[K]*list.Element),
	}, nil
}

// Get returns the value for key, if present and not expired.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	element, ok := c.cache[key]
	if !ok {
		var zeroV V
		return zeroV, false
	}

	e := element.Value.(*entry[K, V])
	if c.config.TTL > 0 && time.Now().After(e.expiration) {
		c.removeElement(element)
		var zeroV V
		return zeroV, false
	}

	c.ll.MoveToFront(element)
	return e.value, true
}

// Put adds or updates a key/value pair, evicting the least recently used
// entry when over capacity.
func (c *LRUCache[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if element, ok := c.cache[key]; ok {
		e := element.Value.(*entry[K, V])
		e.value = value
		if c.config.TTL > 0 {
			e.expiration = time.Now().Add(c.config.TTL)
		}
		c.ll.MoveToFront(element)
		return
	}

	newEntry := &entry[K, V]{key: key, value: value}
	if c.config.TTL > 0 {
		newEntry.expiration = time.Now().Add(c.config.TTL)
	}
	c.cache[key] = c.ll.PushFront(newEntry)

	for c.ll.Len() > c.config.Capacity {
		if back := c.ll.Back(); back != nil {
			c.removeElement(back)
		}
	}
}

// Len returns the number of cached entries.
func (c *LRUCache[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}

// removeElement drops an element from both the list and the map.
// Callers must hold the lock.
func (c *LRUCache[K, V]) removeElement(e *list.Element) {
	c.ll.Remove(e)
	delete(c.cache, e.Value.(*entry[K, V]).key)
}
