// Package event implements the binary signals used to pause and stop the
// pipeline loops.
package event

import (
	"context"
	"sync"
)

// Event is a settable, clearable flag that goroutines can block on.
// A Set happens-before any IsSet, Done or Wait that observes it.
type Event struct {
	mu  sync.Mutex
	set    bool
	ch     chan struct{} // closed while set
	clears uint64
}

// New returns a cleared event.
func New() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set marks the event and wakes every waiter.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Clear resets the event. Subsequent waiters block until the next Set.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
		e.clears++
	}
}

// Clears counts the set-to-cleared transitions so far. Comparing two reads
// tells whether the event was cleared in between, even if it is set again.
func (e *Event) Clears() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clears
}

// IsSet reports the current state.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Done returns a channel that is closed while the event is set.
// The channel is only valid for the state observed at call time.
func (e *Event) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Wait blocks until the event is set or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await blocks until run is set, stop is set or ctx is done, and reports
// whether the caller should keep going. A loop parked on a cleared run flag
// still honors stop.
func Await(ctx context.Context, run, stop *Event) bool {
	select {
	case <-run.Done():
	case <-stop.Done():
	case <-ctx.Done():
	}
	return ctx.Err() == nil && !stop.IsSet()
}
