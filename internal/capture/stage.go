package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/imatest/internal/event"
	"github.com/andresmejia3/imatest/internal/queue"
	"github.com/andresmejia3/imatest/internal/types"
)

// ErrJoinTimeout is returned by Wait when the stage did not exit in time.
var ErrJoinTimeout = errors.New("capture stage did not stop in time")

// Binding connects one run of a capture stage to the pipeline.
type Binding struct {
	RunID     string
	Selection types.Selection
	Queue     *queue.Queue
	Pause     *event.Event
	Stop      *event.Event

	ImageInterval time.Duration
	RetryInterval time.Duration

	Logger *slog.Logger
}

// LocalStage runs the producer on a goroutine inside this process. It
// shares the pause and stop flags directly, so Pause, Resume and Stop have
// nothing to forward.
type LocalStage struct {
	producer *Producer
	sel      types.Selection

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	stats Stats
	err   error
}

// NewLocalStage binds dec to the pipeline described by b.
func NewLocalStage(dec Decoder, b Binding) *LocalStage {
	return &LocalStage{
		producer: &Producer{
			Decoder:       dec,
			Sink:          b.Queue,
			Pause:         b.Pause,
			Stop:          b.Stop,
			ImageInterval: b.ImageInterval,
			RetryInterval: b.RetryInterval,
			Logger:        b.Logger,
		},
		sel:  b.Selection,
		done: make(chan struct{}),
	}
}

// Start launches the capture goroutine.
func (s *LocalStage) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		stats, err := s.producer.Run(ctx, s.sel)
		s.mu.Lock()
		s.stats, s.err = stats, err
		s.mu.Unlock()
	}()
	return nil
}

func (s *LocalStage) Pause()  {}
func (s *LocalStage) Resume() {}
func (s *LocalStage) Stop()   {}

// Wait joins the capture goroutine for at most timeout.
func (s *LocalStage) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
		return ErrJoinTimeout
	}
}

// Kill cancels the producer context. A goroutine cannot be terminated, so
// this only interrupts the blocking waits inside the loop.
func (s *LocalStage) Kill() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Result returns the producer outcome once the stage has exited.
func (s *LocalStage) Result() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, s.err
}
