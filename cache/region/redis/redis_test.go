package redis

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula/cache"
	"github.com/syssam/tabula/cache/region/memory"
)

func TestCodec(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	item := &cache.CacheItem{
		Timestamp: 7 << 12,
		Results: [][]any{
			{int64(1), "widget", true, 9.5, []byte{0x01, 0x02}, nil, created},
		},
	}
	b, err := encode("key", item)
	require.NoError(t, err)
	e, err := decode(b)
	require.NoError(t, err)

	assert.Equal(t, "key", e.Key)
	assert.Equal(t, item.Timestamp, e.Timestamp)
	require.Len(t, e.Results, 1)
	row := e.Results[0]
	require.Len(t, row, 7)
	assert.Equal(t, int64(1), row[0])
	assert.Equal(t, "widget", row[1])
	assert.Equal(t, true, row[2])
	assert.Equal(t, 9.5, row[3])
	assert.Equal(t, []byte{0x01, 0x02}, row[4])
	assert.Nil(t, row[5])
	tm, ok := row[6].(time.Time)
	require.True(t, ok)
	assert.True(t, created.Equal(tm))

	_, err = decode([]byte{0xc1})
	assert.Error(t, err)
}

func TestCodecKeepsCellTypes(t *testing.T) {
	blob := []byte("\x00binary\xff")
	item := &cache.CacheItem{Results: [][]any{
		{blob, "text", int64(-3), int64(1 << 40), int64(200)},
		{[]byte{0}, "", int64(0), float64(0), nil},
	}}
	b, err := encode("key", item)
	require.NoError(t, err)
	e, err := decode(b)
	require.NoError(t, err)
	assert.Equal(t, item.Results, e.Results)
	assert.IsType(t, []byte(nil), e.Results[0][0], "blobs are not decoded as strings")
}

func TestCell(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{int8(-1), int64(-1)},
		{int16(300), int64(300)},
		{int32(1 << 20), int64(1 << 20)},
		{uint8(7), int64(7)},
		{uint16(70), int64(70)},
		{uint32(1 << 31), int64(1 << 31)},
		{uint64(42), int64(42)},
		{uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{float32(1.5), float64(1.5)},
		{[]byte{1}, []byte{1}},
		{"s", "s"},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cell(tt.in), "%T(%v)", tt.in, tt.in)
	}
}

func TestKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	r := NewResultsRegion("query-results", client, WithPrefix("app:"))
	assert.Equal(t, "query-results", r.Name())
	assert.Equal(t, r.key("a"), r.key("a"))
	assert.NotEqual(t, r.key("a"), r.key("b"))
	assert.Contains(t, r.key("a"), "app:query-results:")

	ts := NewTimestampsRegion("timestamps", client)
	assert.Equal(t, DefaultPrefix+"timestamps", ts.key)
}

func TestUnreachableServer(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	results := NewResultsRegion("query-results", client)
	_, err := results.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, results.Put(ctx, "k", &cache.CacheItem{}))

	timestamps := NewTimestampsRegion("timestamps", client)
	_, _, err = timestamps.Get(ctx, "orders")
	assert.Error(t, err)

	t.Run("CacheMiss", func(t *testing.T) {
		clock := cache.NewClock(0)
		c := cache.NewQueryResultsCache(results, cache.NewTimestampsCache(memory.NewTimestampsRegion("ts"), clock))
		s := session{ts: clock.Next()}
		assert.False(t, c.Put(ctx, cache.QueryKey{SQL: "SELECT 1"}, [][]any{{int64(1)}}, s))
		_, ok := c.Get(ctx, cache.QueryKey{SQL: "SELECT 1"}, []string{"orders"}, s)
		assert.False(t, ok)
	})
}

type session struct{ ts int64 }

func (s session) CacheTimestamp() int64 { return s.ts }
func (session) ID() string              { return "test" }
