// Package transform holds the per-frame CPU transform and the consumer loop
// that applies it.
package transform

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/andresmejia3/imatest/internal/event"
	"github.com/andresmejia3/imatest/internal/queue"
	"github.com/andresmejia3/imatest/internal/types"
)

// Source is the consumer side of the frame queue.
type Source interface {
	Get(ctx context.Context, timeout time.Duration) (types.Frame, error)
}

// Emitter receives the consumer output. Calls come from the consumer
// goroutine; implementations hand off to the GUI thread themselves.
type Emitter interface {
	FrameReady(seq int, original, processed types.Frame)
	Finished()
}

// Consumer pulls frames, transforms them and emits the pairs.
type Consumer struct {
	Source  Source
	Pause   *event.Event
	Stop    *event.Event
	Timeout time.Duration // no frame for this long means the source is exhausted

	// Transform defaults to Grayscale.
	Transform func(types.Frame) types.Frame
	Emitter   Emitter
	Logger    *slog.Logger
}

// Run loops until the stop flag is set, ctx is cancelled, or the source is
// exhausted. It returns the number of frames emitted. Finished is emitted
// at most once, and only for exhaustion.
func (c *Consumer) Run(ctx context.Context) int {
	transform := c.Transform
	if transform == nil {
		transform = Grayscale
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	seq := 0
	for event.Await(ctx, c.Pause, c.Stop) {
		suspends := c.Pause.Clears()
		frame, err := c.Source.Get(ctx, c.Timeout)
		switch {
		case err == nil:
			seq++
			c.Emitter.FrameReady(seq, frame, transform(frame))

		case errors.Is(err, queue.ErrEmpty):
			if !c.Pause.IsSet() || c.Stop.IsSet() || c.Pause.Clears() != suspends {
				// Suspended at some point during the wait; the producer was
				// parked too, so the timeout window starts over.
				continue
			}
			logger.Info("no frame received, finishing", "timeout", c.Timeout)
			c.Emitter.Finished()
			return seq

		case errors.Is(err, queue.ErrClosed):
			if c.Stop.IsSet() {
				// The producer closes the queue on its way out of a stop.
				return seq
			}
			logger.Info("source exhausted", "frames", seq)
			c.Emitter.Finished()
			return seq

		default:
			return seq
		}
	}
	return seq
}
