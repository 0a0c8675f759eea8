package cache

import (
	"sync"
	"time"
)

// DefaultLockTimeout is how long a pre-invalidated space stays locked
// against cache puts when its transaction never completes.
const DefaultLockTimeout = 60 * time.Second

// Clock is a monotonic logical clock. Timestamps are milliseconds shifted
// left by 12 bits; the low bits count ticks within one millisecond, so
// successive calls never return the same value.
type Clock struct {
	mu          sync.Mutex
	last        int64
	lockTimeout time.Duration
	now         func() time.Time
}

// NewClock returns a clock. A zero lockTimeout uses DefaultLockTimeout.
func NewClock(lockTimeout time.Duration) *Clock {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Clock{lockTimeout: lockTimeout, now: time.Now}
}

// Next returns the next timestamp.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli() << 12
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Timeout returns the lock timeout in clock units.
func (c *Clock) Timeout() int64 {
	return c.lockTimeout.Milliseconds() << 12
}
