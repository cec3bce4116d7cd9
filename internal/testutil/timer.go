package testutil

import (
	"sync"
	"time"
)

// ManualTimer satisfies engine.Timer but never fires on its own. Tests call
// Fire to run pending callbacks synchronously, which makes the review
// coalescer's debounce window a deterministic step instead of a sleep.
type ManualTimer struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]func()
}

// NewManualTimer creates an empty manual timer.
func NewManualTimer() *ManualTimer {
	return &ManualTimer{pending: map[int]func(){}}
}

// AfterFunc registers fn without scheduling it. The returned cancel removes
// fn and reports whether it was still pending.
func (m *ManualTimer) AfterFunc(_ time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.pending[id] = fn

	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, ok := m.pending[id]
		delete(m.pending, id)
		return ok
	}
}

// Fire runs every pending callback, synchronously, in registration order
// snapshot. Callbacks that register new timers (a trailing debounce run)
// stay pending until the next Fire.
func (m *ManualTimer) Fire() int {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.pending))
	for id, fn := range m.pending {
		fns = append(fns, fn)
		delete(m.pending, id)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Pending reports how many callbacks are waiting.
func (m *ManualTimer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
