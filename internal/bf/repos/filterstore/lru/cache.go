package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/bf/internal/bf/repos/filterstore"
)

// filterCache is an LRU-backed implementation of filterstore.FilterCache.
// It tracks basic metrics: hits, misses, and evictions.
type filterCache struct {
	lru       *lru.Cache[string, filterstore.Entry]
	capacity  int
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache is a no-op FilterCache used when size <= 0.
type disabledCache struct {
	misses uint64
}

// New creates a FilterCache holding at most size decoded filters. If
// size <= 0, a disabled cache is returned that always misses.
func New(size int) (filterstore.FilterCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	fc := &filterCache{capacity: size}
	// The eviction callback also fires for Remove.
	cache, err := lru.NewWithEvict(size, func(_ string, _ filterstore.Entry) {
		atomic.AddUint64(&fc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	fc.lru = cache
	return fc, nil
}

// Get looks up an entry by name. When found, increments hits; otherwise increments misses.
func (c *filterCache) Get(name string) (filterstore.Entry, bool) {
	if val, ok := c.lru.Get(name); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return filterstore.Entry{}, false
}

func (c *filterCache) Put(name string, e filterstore.Entry) {
	c.lru.Add(name, e)
}

func (c *filterCache) Remove(name string) {
	c.lru.Remove(name)
}

func (c *filterCache) Stats() filterstore.CacheStats {
	return filterstore.CacheStats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
	}
}

// disabledCache implementation

func (d *disabledCache) Get(string) (filterstore.Entry, bool) {
	atomic.AddUint64(&d.misses, 1)
	return filterstore.Entry{}, false
}

func (d *disabledCache) Put(string, filterstore.Entry) {}

func (d *disabledCache) Remove(string) {}

func (d *disabledCache) Stats() filterstore.CacheStats {
	return filterstore.CacheStats{Misses: atomic.LoadUint64(&d.misses)}
}

var _ filterstore.FilterCache = (*filterCache)(nil)
var _ filterstore.FilterCache = (*disabledCache)(nil)
