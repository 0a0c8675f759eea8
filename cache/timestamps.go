package cache

import (
	"context"
	"log/slog"
)

// TimestampsCache tracks when each query space was last modified.
// A cached query result is valid only if none of its spaces changed after
// the result was produced.
type TimestampsCache struct {
	region  TimestampsRegion
	clock   *Clock
	logger  *slog.Logger
	metrics *Metrics
}

// NewTimestampsCache returns a timestamps cache over region.
func NewTimestampsCache(region TimestampsRegion, clock *Clock, opts ...Option) *TimestampsCache {
	o := newOptions(opts)
	return &TimestampsCache{region: region, clock: clock, logger: o.logger, metrics: o.metrics}
}

// Region returns the underlying region.
func (c *TimestampsCache) Region() TimestampsRegion { return c.region }

// Clock returns the clock timestamps are taken from.
func (c *TimestampsCache) Clock() *Clock { return c.clock }

// PreInvalidate marks spaces as being modified by an uncommitted
// transaction. The timestamp lies a lock timeout in the future, so no
// result computed meanwhile can be cached against these spaces.
func (c *TimestampsCache) PreInvalidate(ctx context.Context, spaces []string) {
	if len(spaces) == 0 {
		return
	}
	c.put(ctx, "pre_invalidate", spaces, c.clock.Next()+c.clock.Timeout())
}

// Invalidate records that spaces were modified now. It is called after a
// transaction completes and releases the lock set by PreInvalidate.
func (c *TimestampsCache) Invalidate(ctx context.Context, spaces []string) {
	if len(spaces) == 0 {
		return
	}
	c.put(ctx, "invalidate", spaces, c.clock.Next())
}

func (c *TimestampsCache) put(ctx context.Context, phase string, spaces []string, ts int64) {
	for _, space := range spaces {
		if err := c.region.Put(ctx, space, ts); err != nil {
			c.logger.WarnContext(ctx, "query cache: updating space timestamp failed",
				"region", c.region.Name(), "space", space, "phase", phase, "error", err)
		}
	}
	c.metrics.invalidate(phase, len(spaces))
}

// IsUpToDate reports whether a result produced at ts is still valid for
// spaces. Spaces never invalidated are up to date. A failing region makes
// the result invalid.
func (c *TimestampsCache) IsUpToDate(ctx context.Context, spaces []string, ts int64) bool {
	for _, space := range spaces {
		last, ok, err := c.region.Get(ctx, space)
		if err != nil {
			c.logger.WarnContext(ctx, "query cache: reading space timestamp failed",
				"region", c.region.Name(), "space", space, "error", err)
			return false
		}
		if ok && last > ts {
			return false
		}
	}
	return true
}

// Clear removes all timestamps.
func (c *TimestampsCache) Clear(ctx context.Context) error {
	return c.region.Clear(ctx)
}
