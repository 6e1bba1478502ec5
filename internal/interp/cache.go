package interp

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheEntry is one memoized execution: its result and a detached clone
// of the namespace it left behind, so a hit replays the state transition.
type CacheEntry struct {
	Result Result

	globals *env
}

// Cache memoizes executions keyed by (code, state hash). Identical code
// against identical state replays without re-running.
type Cache struct {
	lru *lru.Cache[string, CacheEntry]
}

// NewCache creates a cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[string, CacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

func (c *Cache) Get(key string) (CacheEntry, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Put(key string, entry CacheEntry) {
	c.lru.Add(key, entry)
}

// Len returns the number of cached executions.
func (c *Cache) Len() int { return c.lru.Len() }
