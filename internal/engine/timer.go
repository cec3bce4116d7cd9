package engine

import "time"

// Timer abstracts the debounce timer so the coalescer's state machine can be
// driven manually in tests. The production implementation is time.AfterFunc.
type Timer interface {
	// AfterFunc runs fn after d elapses and returns a cancel function.
	// Cancel is best-effort: fn may already be running.
	AfterFunc(d time.Duration, fn func()) (cancel func() bool)
}

// WallTimer is the production Timer backed by time.AfterFunc.
type WallTimer struct{}

// AfterFunc implements Timer.
func (WallTimer) AfterFunc(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}
