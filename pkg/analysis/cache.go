package analysis

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NERVsystems/matsimcal/pkg/monitoring"
)

// DefaultCacheSize is the number of run evaluations kept
const DefaultCacheSize = 64

// Cache keeps evaluations by run directory so revisiting a run does not
// re-read its outputs
type Cache struct {
	lru *lru.Cache[string, *Result]
}

// NewCache creates a cache holding up to size results
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, fmt.Errorf("creating share cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// Get returns the cached result for runDir
func (c *Cache) Get(runDir string) (*Result, bool) {
	r, ok := c.lru.Get(runDir)
	if ok {
		monitoring.RecordCacheHit()
	} else {
		monitoring.RecordCacheMiss()
	}
	return r, ok
}

// Add stores the result for runDir
func (c *Cache) Add(runDir string, r *Result) {
	c.lru.Add(runDir, r)
}

// GetOrCompute returns the cached result for runDir or computes and stores
// it. Failed computations are not cached.
func (c *Cache) GetOrCompute(runDir string, compute func() (*Result, error)) (*Result, bool, error) {
	if r, ok := c.Get(runDir); ok {
		return r, true, nil
	}
	r, err := compute()
	if err != nil {
		return nil, false, err
	}
	c.Add(runDir, r)
	return r, false, nil
}

// Len returns the number of cached results
func (c *Cache) Len() int {
	return c.lru.Len()
}
