package cache

import (
	"context"
	"log/slog"
)

// CachingSession is the view of a session the results cache needs.
type CachingSession interface {
	// CacheTimestamp returns the timestamp results read by the session
	// are stored with. It is taken when the session's transaction begins.
	CacheTimestamp() int64
	// ID identifies the session in logs.
	ID() string
}

// Option configures a cache.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *Metrics
}

// WithLogger sets the logger region failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records cache metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// QueryResultsCache caches query results and validates them against the
// timestamps of the query spaces they were read from.
type QueryResultsCache struct {
	region     QueryResultsRegion
	timestamps *TimestampsCache
	logger     *slog.Logger
	metrics    *Metrics
}

// NewQueryResultsCache returns a results cache over region.
func NewQueryResultsCache(region QueryResultsRegion, timestamps *TimestampsCache, opts ...Option) *QueryResultsCache {
	o := newOptions(opts)
	return &QueryResultsCache{region: region, timestamps: timestamps, logger: o.logger, metrics: o.metrics}
}

// Region returns the underlying region.
func (c *QueryResultsCache) Region() QueryResultsRegion { return c.region }

// Timestamps returns the timestamps cache results are validated against.
func (c *QueryResultsCache) Timestamps() *TimestampsCache { return c.timestamps }

// Get returns a copy of the results cached for key. Results older than
// the last invalidation of any of spaces are a miss; they stay in the
// region and are replaced by the next put. Region failures are a miss.
func (c *QueryResultsCache) Get(ctx context.Context, key QueryKey, spaces []string, s CachingSession) ([][]any, bool) {
	k := key.String()
	item, err := c.region.Get(ctx, k)
	if err != nil {
		c.logger.WarnContext(ctx, "query cache: get failed",
			"region", c.region.Name(), "session", s.ID(), "error", err)
		c.metrics.miss(false)
		return nil, false
	}
	if item == nil {
		c.logger.DebugContext(ctx, "query cache: miss", "region", c.region.Name(), "session", s.ID())
		c.metrics.miss(false)
		return nil, false
	}
	if !c.timestamps.IsUpToDate(ctx, spaces, item.Timestamp) {
		c.logger.DebugContext(ctx, "query cache: stale result",
			"region", c.region.Name(), "session", s.ID(), "spaces", spaces)
		c.metrics.miss(true)
		return nil, false
	}
	c.metrics.hit()
	rows := CopyRows(item.Results)
	if rows == nil {
		rows = [][]any{}
	}
	return rows, true
}

// Put caches a copy of results under key, stamped with the session's
// caching timestamp. It reports false if the region rejected the item.
func (c *QueryResultsCache) Put(ctx context.Context, key QueryKey, results [][]any, s CachingSession) bool {
	rows := CopyRows(results)
	if rows == nil {
		rows = [][]any{}
	}
	item := &CacheItem{Timestamp: s.CacheTimestamp(), Results: rows}
	if err := c.region.Put(ctx, key.String(), item); err != nil {
		c.logger.WarnContext(ctx, "query cache: put failed",
			"region", c.region.Name(), "session", s.ID(), "error", err)
		c.metrics.put(false)
		return false
	}
	c.metrics.put(true)
	return true
}

// Clear removes all cached results.
func (c *QueryResultsCache) Clear(ctx context.Context) error {
	return c.region.Clear(ctx)
}
