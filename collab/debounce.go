package collab

import (
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
)

// DefaultDebounceInterval is the quiet period before a local edit is sent.
const DefaultDebounceInterval = 150 * time.Millisecond

// Debouncer runs only the last function triggered within a quiet interval.
type Debouncer struct {
	debounced func(func())
	stopped   atomic.Bool
}

// NewDebouncer creates a debouncer; a non-positive interval selects the default.
func NewDebouncer(interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	return &Debouncer{debounced: debounce.New(interval)}
}

// Trigger cancels any pending function and schedules fn.
func (d *Debouncer) Trigger(fn func()) {
	if d.stopped.Load() {
		return
	}
	d.debounced(func() {
		if d.stopped.Load() {
			return
		}
		fn()
	})
}

// Stop cancels the pending function. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.stopped.Store(true)
	d.debounced(func() {})
}
