// cmd/hookbot/cache.go
package main

import (
	"sync"
	"time"
)

// CacheItem represents a cached item with expiration
type CacheItem struct {
	Value     interface{}
	ExpireAt  time.Time
	CreatedAt time.Time
}

// Cache represents an in-memory cache with expiration
type Cache struct {
	items      map[string]*CacheItem
	mutex      sync.RWMutex
	maxItems   int
	defaultTTL time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCache creates a new cache instance. maxItems of 0 means unbounded.
// The cleanup goroutine runs until Close.
func NewCache(defaultTTL time.Duration, maxItems int) *Cache {
	cache := &Cache{
		items:      make(map[string]*CacheItem),
		maxItems:   maxItems,
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go cache.startCleanupRoutine()
	return cache
}

// Set adds an item to the cache with default TTL
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds an item to the cache with specified TTL
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.setLocked(key, value, ttl)
}

func (c *Cache) setLocked(key string, value interface{}, ttl time.Duration) {
	now := c.now()
	c.items[key] = &CacheItem{
		Value:     value,
		ExpireAt:  now.Add(ttl),
		CreatedAt: now,
	}

	// Enforce size limit if needed
	if c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictOldest()
	}
}

// Get retrieves an item from the cache
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.items[key]
	if !exists || c.now().After(item.ExpireAt) {
		return nil, false
	}
	return item.Value, true
}

// GetOrSet gets an item or sets it if not found. valueFunc runs under the
// cache lock, so concurrent callers for one key share a single value.
func (c *Cache) GetOrSet(key string, valueFunc func() interface{}) interface{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if item, exists := c.items[key]; exists && !c.now().After(item.ExpireAt) {
		return item.Value
	}
	value := valueFunc()
	c.setLocked(key, value, c.defaultTTL)
	return value
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
}

// Len returns the number of stored items, expired or not
func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine and waits for it to exit
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// evictOldest removes the oldest item; callers hold the lock
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, item := range c.items {
		if oldestKey == "" || item.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.CreatedAt
		}
	}
	delete(c.items, oldestKey)
}

// removeExpired drops every expired item
func (c *Cache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.ExpireAt) {
			delete(c.items, key)
		}
	}
}

func (c *Cache) startCleanupRoutine() {
	defer close(c.done)

	interval := c.defaultTTL
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}
