package collab

import (
	"sync"
	"time"
)

// DefaultEchoWindow is how long local change notifications are ignored after
// a remote update was applied to the buffer.
const DefaultEchoWindow = 100 * time.Millisecond

// EchoSuppressor marks a grace window during which buffer changes are known
// to come from a programmatic update and must not be sent back.
type EchoSuppressor struct {
	window time.Duration

	mu     sync.Mutex
	active bool
	gen    uint64
	timer  *time.Timer
}

// NewEchoSuppressor creates a suppressor; a non-positive window selects the default.
func NewEchoSuppressor(window time.Duration) *EchoSuppressor {
	if window <= 0 {
		window = DefaultEchoWindow
	}
	return &EchoSuppressor{window: window}
}

// Apply raises the flag, runs fn and clears the flag once the window elapsed.
// Applying again while active restarts the window.
func (e *EchoSuppressor) Apply(fn func()) {
	e.mu.Lock()
	e.active = true
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.window, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen == gen {
			e.active = false
			e.timer = nil
		}
	})
	e.mu.Unlock()

	fn()
}

// Active reports whether a remote update is being applied.
func (e *EchoSuppressor) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Stop cancels the clear timer and lowers the flag.
func (e *EchoSuppressor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.active = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
