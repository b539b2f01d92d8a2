package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/event"
	"github.com/andresmejia3/imatest/internal/queue"
	"github.com/andresmejia3/imatest/internal/types"
)

// ServeOptions configures the capture child.
type ServeOptions struct {
	Decoder   capture.Decoder
	Selection types.Selection

	Control io.Reader // stdin
	Data    io.Writer // FD 3

	QueueSize     int
	ImageInterval time.Duration
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Serve runs the producer until its sources are exhausted or the parent
// asks it to stop, then writes the end-of-stream marker.
func Serve(ctx context.Context, opts ServeOptions) (capture.Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pause := event.New()
	pause.Set()
	stop := event.New()
	go ReadControl(opts.Control, pause, stop)

	sink := NewPipeSink(ctx, opts.Data, opts.QueueSize, opts.RetryInterval, stop)
	p := &capture.Producer{
		Decoder:       opts.Decoder,
		Sink:          sink,
		Pause:         pause,
		Stop:          stop,
		ImageInterval: opts.ImageInterval,
		RetryInterval: opts.RetryInterval,
		Logger:        logger,
	}

	stats, err := p.Run(ctx, opts.Selection)
	if werr := sink.Wait(); werr != nil {
		logger.Warn("data pipe write failed", "err", werr)
		if err == nil {
			err = werr
		}
	}
	logger.Info("capture finished",
		"decoded", stats.Decoded,
		"enqueued", stats.Enqueued,
		"dropped", stats.Dropped,
		"skipped", stats.Skipped)
	return stats, err
}

// ReadControl applies control bytes from r to the flags. Any read error,
// including EOF, is treated as stop.
func ReadControl(r io.Reader, pause, stop *event.Event) {
	defer stop.Set()
	buf := make([]byte, 1)
	for {
		if _, err := r.Read(buf); err != nil {
			return
		}
		switch buf[0] {
		case CmdPause:
			pause.Clear()
		case CmdResume:
			pause.Set()
		case CmdStop:
			return
		}
	}
}

// PipeSink is the child-local bounded queue in front of the data pipe.
// The producer sees the same full-queue behavior as in-process, while a
// writer goroutine serializes frames onto w.
type PipeSink struct {
	q    *queue.Queue
	w    io.Writer
	poll time.Duration
	stop *event.Event

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// NewPipeSink starts the writer goroutine. Frames queued after stop is set
// are discarded rather than written.
func NewPipeSink(ctx context.Context, w io.Writer, size int, poll time.Duration, stop *event.Event) *PipeSink {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	s := &PipeSink{
		q:    queue.New(size),
		w:    w,
		poll: poll,
		stop: stop,
		done: make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *PipeSink) Put(ctx context.Context, f types.Frame, timeout time.Duration) error {
	return s.q.Put(ctx, f, timeout)
}

func (s *PipeSink) TryPut(f types.Frame) bool { return s.q.TryPut(f) }

// Close marks end-of-stream; the writer sends E once the queue drains.
func (s *PipeSink) Close() { s.q.Close() }

// Wait blocks until the writer goroutine has exited and returns its error.
func (s *PipeSink) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *PipeSink) run(ctx context.Context) {
	defer close(s.done)
	for {
		f, err := s.q.Get(ctx, s.poll)
		switch {
		case err == nil:
			if s.stop.IsSet() {
				continue
			}
			if err := WriteMessage(s.w, KindFrame, EncodeFrame(f)); err != nil {
				s.fail(err)
				return
			}
		case errors.Is(err, queue.ErrEmpty):
		case errors.Is(err, queue.ErrClosed):
			if err := WriteMessage(s.w, KindEOS, nil); err != nil {
				s.fail(err)
			}
			return
		default:
			s.fail(err)
			return
		}
	}
}

// fail records err and stops the producer; with the pipe gone there is
// nobody left to deliver frames to.
func (s *PipeSink) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.stop.Set()
	s.q.Close()
	s.q.Drain()
}
