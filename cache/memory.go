// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// memoryCache is an LRU cache bounded by total body bytes.
type memoryCache struct {
	mu      sync.Mutex
	maxSize int64
	size    int64
	items   map[string]*list.Element // key -> element holding *Entry
	order   *list.List               // front is most recently used
	stats   *Statistics
	closed  bool
}

func newMemoryCache(maxSize int64, opts *cacheOptions) (*memoryCache, error) {
	stats, err := statisticsFor(opts, Memory)
	if err != nil {
		return nil, err
	}
	return &memoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   stats,
	}, nil
}

func (c *memoryCache) Lookup(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok || c.closed {
		c.stats.miss()
		return nil, false
	}

	c.order.MoveToFront(element)
	c.stats.hit()
	return element.Value.(*Entry), true
}

func (c *memoryCache) Store(e *Entry) error {
	if e.Key == "" {
		return errEmptyKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.maxSize == 0 || e.Size() > c.maxSize {
		return nil
	}

	stored := *e
	stored.Origin = Memory
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}

	if element, ok := c.items[e.Key]; ok {
		c.size -= element.Value.(*Entry).Size()
		c.removeElement(element)
	}
	for c.size+stored.Size() > c.maxSize {
		c.evictOldest()
	}

	c.items[e.Key] = c.order.PushFront(&stored)
	c.size += stored.Size()
	c.stats.store()
	c.stats.size(len(c.items), c.size)
	return nil
}

func (c *memoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *memoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *memoryCache) Stats() *Statistics {
	return c.stats
}

// Close drops every entry.
func (c *memoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.size = 0
	c.stats.size(0, 0)
	return nil
}

// Must be called with mu held.
func (c *memoryCache) evictOldest() {
	element := c.order.Back()
	if element == nil {
		return
	}
	c.size -= element.Value.(*Entry).Size()
	c.removeElement(element)
	c.stats.eviction()
}

// Must be called with mu held.
func (c *memoryCache) removeElement(element *list.Element) {
	delete(c.items, element.Value.(*Entry).Key)
	c.order.Remove(element)
}
