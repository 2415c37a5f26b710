// Package cache provides the in-process hot-cache layer repositories lay
// in front of the store, adapted from common/cache.go in the teacher
// codebase. Correctness never depends on this cache: every repository
// falls back to the store on a miss and invalidates on write.
package cache

import (
	"errors"
	"math"

	lru "github.com/hashicorp/golang-lru"
)

// Cache is a narrow key/value cache over arbitrary string keys. Unlike the
// teacher's common.Cache, keys here are plain strings (repository cache
// keys are already composite strings such as "eth:0xabc..."), so there is
// no CacheKey/shard-index indirection to carry over.
type Cache interface {
	Add(key string, value interface{})
	Get(key string) (value interface{}, ok bool)
	Remove(key string)
	Purge()
}

type lruCache struct {
	lru *lru.Cache
}

func (c *lruCache) Add(key string, value interface{}) { c.lru.Add(key, value) }

func (c *lruCache) Get(key string) (interface{}, bool) { return c.lru.Get(key) }

func (c *lruCache) Remove(key string) { c.lru.Remove(key) }

func (c *lruCache) Purge() { c.lru.Purge() }

// NewLRU returns an LRU-backed Cache sized to hold size entries.
func NewLRU(size int) (Cache, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &lruCache{lru: l}, nil
}

type arcCache struct {
	arc *lru.ARCCache
}

func (c *arcCache) Add(key string, value interface{}) { c.arc.Add(key, value) }

func (c *arcCache) Get(key string) (interface{}, bool) { return c.arc.Get(key) }

func (c *arcCache) Remove(key string) { c.arc.Remove(key) }

func (c *arcCache) Purge() { c.arc.Purge() }

// NewARC returns an adaptive-replacement Cache, used where access pattern
// shifts between recency- and frequency-heavy over the process lifetime
// (TokenRepo's hot set drifts as classification churns).
func NewARC(size int) (Cache, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	a, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &arcCache{arc: a}, nil
}

// Sized scales a configured base size by a runtime percentage, mirroring
// the teacher's CacheScale knob (cache size = preset size * scale / 100).
func Sized(base, scalePercent int) int {
	return int(math.Max(1, float64(base)*float64(scalePercent)/100))
}
