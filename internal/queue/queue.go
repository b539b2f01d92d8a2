// Package queue provides the bounded frame queue shared by the capture and
// transform stages.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andresmejia3/imatest/internal/types"
)

var (
	// ErrFull is returned when Put could not enqueue before its timeout.
	ErrFull = errors.New("queue full")
	// ErrEmpty is returned when Get saw no frame before its timeout.
	ErrEmpty = errors.New("queue empty")
	// ErrClosed is returned after Close once every queued frame was delivered.
	ErrClosed = errors.New("queue closed")
)

// Queue is a bounded FIFO of frames with timed blocking put/get.
// It is safe for concurrent use by one producer and one consumer.
type Queue struct {
	ch        chan types.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding at most capacity frames.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan types.Frame, capacity),
		closed: make(chan struct{}),
	}
}

// Put enqueues f, waiting at most timeout for free space.
func (q *Queue) Put(ctx context.Context, f types.Frame, timeout time.Duration) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	// Fast path avoids allocating a timer when there is room.
	select {
	case q.ch <- f:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.ch <- f:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-timer.C:
		return ErrFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut enqueues f only if there is room right now.
func (q *Queue) TryPut(f types.Frame) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.ch <- f:
		return true
	default:
		return false
	}
}

// Get dequeues the oldest frame, waiting at most timeout.
// Frames queued before Close are still delivered.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (types.Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.ch:
		return f, nil
	case <-q.closed:
		select {
		case f := <-q.ch:
			return f, nil
		default:
			return types.Frame{}, ErrClosed
		}
	case <-timer.C:
		return types.Frame{}, ErrEmpty
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

// Close marks end-of-stream. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Drain discards every queued frame and returns how many were dropped.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
