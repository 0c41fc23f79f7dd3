package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent fails if an event of kind arrives within wait.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeLink answers pings according to respond and records terminations.
type fakeLink struct {
	respond    atomic.Bool
	pings      atomic.Int32
	terminated atomic.Bool
}

func newFakeLink(respond bool) *fakeLink {
	l := &fakeLink{}
	l.respond.Store(respond)
	return l
}

func (l *fakeLink) Ping(ctx context.Context) error {
	l.pings.Add(1)
	if l.respond.Load() {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (l *fakeLink) Terminate(string) {
	l.terminated.Store(true)
}

// fakeBus captures published updates and lets tests inject remote ones.
type fakeBus struct {
	mu        sync.Mutex
	published []Update
	fn        func(Update)
	ready     chan struct{}
	once      sync.Once
}

func newFakeBus() *fakeBus {
	return &fakeBus{ready: make(chan struct{})}
}

func (b *fakeBus) Publish(_ context.Context, u Update) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, u)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, fn func(Update)) error {
	b.mu.Lock()
	b.fn = fn
	b.mu.Unlock()
	b.once.Do(func() { close(b.ready) })
	<-ctx.Done()
	return errors.New("bus closed")
}

func (b *fakeBus) inject(t *testing.T, u Update) {
	t.Helper()
	select {
	case <-b.ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("bus subscription not started")
	}
	b.mu.Lock()
	fn := b.fn
	b.mu.Unlock()
	fn(u)
}

func (b *fakeBus) Published() []Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Update(nil), b.published...)
}
