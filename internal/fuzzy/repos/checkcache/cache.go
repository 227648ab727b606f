// Package checkcache caches recent CHECK verdicts so repeated probes for
// the same hash skip the bucket scan. Every successful mutation purges
// the cache; entries are only ever as stale as the last write.
package checkcache

import (
	"encoding/binary"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
)

// Cache is the decision cache contract used by the store service.
type Cache interface {
	Get(h domain.FuzzyHash) (bool, bool)
	Put(h domain.FuzzyHash, found bool)
	Purge()
	Len() int
	Stats() (hits, misses, evictions uint64)
}

// Key renders a hash as the cache key: block size followed by the pipe.
func Key(h domain.FuzzyHash) string {
	var k [4 + domain.PipeSize]byte
	binary.LittleEndian.PutUint32(k[:4], h.BlockSize)
	copy(k[4:], h.Pipe[:])
	return string(k[:])
}

// decisionCache is an LRU-backed implementation of Cache with basic
// hit/miss/eviction counters.
type decisionCache struct {
	lru       *lru.Cache[string, bool]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache is a no-op Cache used when size <= 0.
type disabledCache struct{}

// New creates a Cache with the given capacity. If size <= 0, a disabled
// no-op cache is returned that always misses and tracks no metrics.
func New(size int) (Cache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	var dc decisionCache
	// NewWithEvict observes evictions, including Purge-induced ones.
	cache, err := lru.NewWithEvict(size, func(_ string, _ bool) {
		atomic.AddUint64(&dc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return &dc, nil
}

// Get looks up the cached verdict for h.
func (c *decisionCache) Get(h domain.FuzzyHash) (bool, bool) {
	if val, ok := c.lru.Get(Key(h)); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return false, false
}

// Put stores the verdict for h.
func (c *decisionCache) Put(h domain.FuzzyHash, found bool) {
	c.lru.Add(Key(h), found)
}

// Purge drops every cached verdict. Called after each WRITE or DELETE.
func (c *decisionCache) Purge() {
	c.lru.Purge()
}

func (c *decisionCache) Len() int {
	return c.lru.Len()
}

func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (d *disabledCache) Get(domain.FuzzyHash) (bool, bool) { return false, false }
func (d *disabledCache) Put(domain.FuzzyHash, bool)        {}
func (d *disabledCache) Purge()                            {}
func (d *disabledCache) Len() int                          { return 0 }
func (d *disabledCache) Stats() (uint64, uint64, uint64)   { return 0, 0, 0 }
