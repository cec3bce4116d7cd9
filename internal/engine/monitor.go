package engine

import (
	"sync"
)

// Monitor reports the device's online/offline state. Every higher component
// branches on it: commands choose remote-first vs queue-first, the executor
// skips draining entirely while offline.
//
// Reconnect transitions nudge subscribers (the executor's Run loop) through
// a buffered channel, the same coalesced-signal shape as a queue wakeup:
// many transitions collapse into one pending notification.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []chan struct{}
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online}
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity transition. Going offline is silent;
// coming online notifies subscribers.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasOnline := m.online
	m.online = online
	if online && !wasOnline {
		for _, ch := range m.subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Reconnects returns a channel that receives a signal when connectivity
// returns. Use with select alongside ctx.Done().
func (m *Monitor) Reconnects() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{}, 1)
	m.subs = append(m.subs, ch)
	return ch
}
