// Package cache holds assembled search results in memory, bounded by entry
// count and expired by age.
package cache

import (
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"pinscout/internal/models"
)

const (
	DefaultCapacity = 200
	DefaultTTL      = 30 * time.Minute
)

type Cache struct {
	lru *expirable.LRU[models.QueryParams, models.SearchResult]
}

// New returns a cache evicting least-recently-used entries above capacity and
// any entry older than ttl. Non-positive arguments fall back to the defaults.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[models.QueryParams, models.SearchResult](capacity, nil, ttl)}
}

func (c *Cache) Get(key models.QueryParams) (models.SearchResult, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		// Drop an expired entry the background sweep has not reached yet.
		c.lru.Remove(key)
		return models.SearchResult{}, false
	}
	return v, true
}

// Set replaces any entry for key. The sample slice is copied so the cached
// value is never aliased by the caller.
func (c *Cache) Set(key models.QueryParams, v models.SearchResult) {
	v.Sample = slices.Clone(v.Sample)
	c.lru.Add(key, v)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
