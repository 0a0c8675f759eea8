package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula/cache"
)

func TestResultsRegion(t *testing.T) {
	ctx := context.Background()
	r, err := NewResultsRegion("query-results", 2)
	require.NoError(t, err)
	assert.Equal(t, "query-results", r.Name())

	item, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, item)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, r.Put(ctx, k, &cache.CacheItem{Timestamp: 1}))
	}
	assert.Equal(t, 2, r.Len())
	item, err = r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, item, "least recently used item is evicted")

	require.NoError(t, r.Evict(ctx, "b"))
	assert.Equal(t, 1, r.Len())
	require.NoError(t, r.Clear(ctx))
	assert.Zero(t, r.Len())
}

func TestTimestampsRegion(t *testing.T) {
	ctx := context.Background()
	r := NewTimestampsRegion("timestamps")

	_, ok, err := r.Get(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Put(ctx, "orders", 42))
	ts, ok, err := r.Get(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), ts)

	require.NoError(t, r.Clear(ctx))
	_, ok, _ = r.Get(ctx, "orders")
	assert.False(t, ok)
}
