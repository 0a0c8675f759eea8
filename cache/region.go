package cache

import (
	"context"
	"slices"
)

// CacheItem is a cached query result: the rows and the timestamp of the
// session that produced them.
type CacheItem struct {
	Timestamp int64
	Results   [][]any
}

// QueryResultsRegion stores query results. Implementations decide
// eviction and must be safe for concurrent use.
type QueryResultsRegion interface {
	// Name returns the region name.
	Name() string

	// Get returns the item stored under key.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) (*CacheItem, error)

	// Put stores an item under key.
	Put(ctx context.Context, key string, item *CacheItem) error

	// Evict removes the item stored under key.
	Evict(ctx context.Context, key string) error

	// Clear removes all items.
	Clear(ctx context.Context) error
}

// TimestampsRegion stores the last invalidation timestamp of each query
// space. Implementations must be safe for concurrent use.
type TimestampsRegion interface {
	// Name returns the region name.
	Name() string

	// Get returns the timestamp of a space. Spaces never invalidated
	// report false.
	Get(ctx context.Context, space string) (int64, bool, error)

	// Put stores the timestamp of a space.
	Put(ctx context.Context, space string, ts int64) error

	// Clear removes all timestamps.
	Clear(ctx context.Context) error
}

// CopyRows returns a deep copy of rows. Byte slices are copied too.
func CopyRows(rows [][]any) [][]any {
	if rows == nil {
		return nil
	}
	out := make([][]any, len(rows))
	for i, row := range rows {
		cp := slices.Clone(row)
		for j, v := range cp {
			if b, ok := v.([]byte); ok {
				cp[j] = slices.Clone(b)
			}
		}
		out[i] = cp
	}
	return out
}
