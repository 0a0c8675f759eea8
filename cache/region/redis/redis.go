// Package redis provides cache regions shared by every process connected
// to the same Redis server. Items are encoded with msgpack.
package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/tabula/cache"
)

// DefaultPrefix prefixes every key written by a region.
const DefaultPrefix = "tabula:"

// Option configures a region.
type Option func(*options)

type options struct {
	prefix string
	ttl    time.Duration
}

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option {
	return func(o *options) { o.prefix = p }
}

// WithTTL expires cached results after d. Zero keeps them until evicted.
// Timestamps never expire.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

func newOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// entry is the stored form of a cache item. The full key is kept to
// detect digest collisions.
type entry struct {
	Key       string  `msgpack:"k"`
	Timestamp int64   `msgpack:"t"`
	Results   [][]any `msgpack:"r"`
}

func encode(key string, item *cache.CacheItem) ([]byte, error) {
	return msgpack.Marshal(&entry{Key: key, Timestamp: item.Timestamp, Results: item.Results})
}

func decode(b []byte) (*entry, error) {
	var e entry
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	for _, row := range e.Results {
		for i, v := range row {
			row[i] = cell(v)
		}
	}
	return &e, nil
}

// cell widens a decoded value to the type database/sql scans it into.
// msgpack stores integers in their smallest encoding.
func cell(v any) any {
	switch v := v.(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	case float32:
		return float64(v)
	}
	return v
}

// ResultsRegion is a Redis query results region.
type ResultsRegion struct {
	name   string
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ cache.QueryResultsRegion = (*ResultsRegion)(nil)

// NewResultsRegion returns a results region named name.
func NewResultsRegion(name string, client redis.UniversalClient, opts ...Option) *ResultsRegion {
	o := newOptions(opts)
	return &ResultsRegion{
		name:   name,
		client: client,
		prefix: o.prefix + name + ":",
		ttl:    o.ttl,
	}
}

// Name returns the region name.
func (r *ResultsRegion) Name() string { return r.name }

func (r *ResultsRegion) key(k string) string {
	return r.prefix + strconv.FormatUint(xxhash.Sum64String(k), 16)
}

// Get returns the item stored under key, or nil.
func (r *ResultsRegion) Get(ctx context.Context, key string) (*cache.CacheItem, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", r.name, err)
	}
	e, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("redis: decode %s: %w", r.name, err)
	}
	if e.Key != key {
		return nil, nil
	}
	return &cache.CacheItem{Timestamp: e.Timestamp, Results: e.Results}, nil
}

// Put stores item under key.
func (r *ResultsRegion) Put(ctx context.Context, key string, item *cache.CacheItem) error {
	b, err := encode(key, item)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", r.name, err)
	}
	if err := r.client.Set(ctx, r.key(key), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis: put %s: %w", r.name, err)
	}
	return nil
}

// Evict removes key.
func (r *ResultsRegion) Evict(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: evict %s: %w", r.name, err)
	}
	return nil
}

// Clear removes every item of the region.
func (r *ResultsRegion) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: scan %s: %w", r.name, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: clear %s: %w", r.name, err)
	}
	return nil
}

// TimestampsRegion stores space timestamps in a single Redis hash.
type TimestampsRegion struct {
	name   string
	client redis.UniversalClient
	key    string
}

var _ cache.TimestampsRegion = (*TimestampsRegion)(nil)

// NewTimestampsRegion returns a timestamps region named name.
func NewTimestampsRegion(name string, client redis.UniversalClient, opts ...Option) *TimestampsRegion {
	o := newOptions(opts)
	return &TimestampsRegion{name: name, client: client, key: o.prefix + name}
}

// Name returns the region name.
func (r *TimestampsRegion) Name() string { return r.name }

// Get returns the timestamp of space.
func (r *TimestampsRegion) Get(ctx context.Context, space string) (int64, bool, error) {
	ts, err := r.client.HGet(ctx, r.key, space).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get timestamp %s: %w", space, err)
	}
	return ts, true, nil
}

// Put stores the timestamp of space.
func (r *TimestampsRegion) Put(ctx context.Context, space string, ts int64) error {
	if err := r.client.HSet(ctx, r.key, space, ts).Err(); err != nil {
		return fmt.Errorf("redis: put timestamp %s: %w", space, err)
	}
	return nil
}

// Clear removes all timestamps.
func (r *TimestampsRegion) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis: clear %s: %w", r.name, err)
	}
	return nil
}
