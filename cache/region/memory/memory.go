// Package memory provides in-process cache regions. Results are kept in a
// size-bounded LRU; timestamps are kept without bound since there is one
// per table.
package memory

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syssam/tabula/cache"
)

// DefaultSize is the number of results kept by a region created with size 0.
const DefaultSize = 1024

// ResultsRegion is an LRU query results region.
type ResultsRegion struct {
	name  string
	items *lru.Cache[string, *cache.CacheItem]
}

var _ cache.QueryResultsRegion = (*ResultsRegion)(nil)

// NewResultsRegion returns a region holding at most size results.
func NewResultsRegion(name string, size int) (*ResultsRegion, error) {
	if size <= 0 {
		size = DefaultSize
	}
	items, err := lru.New[string, *cache.CacheItem](size)
	if err != nil {
		return nil, fmt.Errorf("memory: creating region %q: %w", name, err)
	}
	return &ResultsRegion{name: name, items: items}, nil
}

// Name returns the region name.
func (r *ResultsRegion) Name() string { return r.name }

// Get returns the item stored under key, or nil.
func (r *ResultsRegion) Get(_ context.Context, key string) (*cache.CacheItem, error) {
	item, ok := r.items.Get(key)
	if !ok {
		return nil, nil
	}
	return item, nil
}

// Put stores item under key.
func (r *ResultsRegion) Put(_ context.Context, key string, item *cache.CacheItem) error {
	r.items.Add(key, item)
	return nil
}

// Evict removes key.
func (r *ResultsRegion) Evict(_ context.Context, key string) error {
	r.items.Remove(key)
	return nil
}

// Clear removes all items.
func (r *ResultsRegion) Clear(context.Context) error {
	r.items.Purge()
	return nil
}

// Len returns the number of items held.
func (r *ResultsRegion) Len() int { return r.items.Len() }

// TimestampsRegion is an in-process timestamps region.
type TimestampsRegion struct {
	name string
	mu   sync.RWMutex
	ts   map[string]int64
}

var _ cache.TimestampsRegion = (*TimestampsRegion)(nil)

// NewTimestampsRegion returns an empty timestamps region.
func NewTimestampsRegion(name string) *TimestampsRegion {
	return &TimestampsRegion{name: name, ts: make(map[string]int64)}
}

// Name returns the region name.
func (r *TimestampsRegion) Name() string { return r.name }

// Get returns the timestamp of space.
func (r *TimestampsRegion) Get(_ context.Context, space string) (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.ts[space]
	return ts, ok, nil
}

// Put stores the timestamp of space.
func (r *TimestampsRegion) Put(_ context.Context, space string, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ts[space] = ts
	return nil
}

// Clear removes all timestamps.
func (r *TimestampsRegion) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.ts)
	return nil
}
