// Package testutil provides deterministic stand-ins for the engine's
// sources of nondeterminism: the wall clock, entity and operation ID
// generation, and the debounce timer.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe manual clock for tests. Now never moves unless a
// test advances it, so timestamps embedded in entities and queue entries
// are stable across runs.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock pinned to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current pinned time. Pass as engine.WithClock(c.Now).
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
