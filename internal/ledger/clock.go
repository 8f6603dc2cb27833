package ledger

import (
	"sync"
	"time"
)

// Clock returns the current time. Engines take one so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock fixed at unix second ts.
func NewManualClock(ts int64) *ManualClock {
	return &ManualClock{now: time.Unix(ts, 0).UTC()}
}

// Now returns the current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to unix second ts.
func (c *ManualClock) Set(ts int64) {
	c.mu.Lock()
	c.now = time.Unix(ts, 0).UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
