// Package pipeline owns the lifecycle of one capture/transform run: it
// creates the shared queue and flags, starts both stages, and joins them on
// stop before reporting the run as done.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/config"
	"github.com/andresmejia3/imatest/internal/event"
	"github.com/andresmejia3/imatest/internal/queue"
	"github.com/andresmejia3/imatest/internal/transform"
	"github.com/andresmejia3/imatest/internal/types"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state, e.g. Start while a previous run is still stopping.
	ErrInvalidState = errors.New("operation not allowed in current pipeline state")
	// ErrNoInput is returned by Start for file mode without any path.
	ErrNoInput = errors.New("no input selected")
	// ErrShutdownTimeout is returned by Shutdown when the run did not reach Idle.
	ErrShutdownTimeout = errors.New("pipeline did not stop in time")
)

type State int

const (
	Idle State = iota
	Running
	Suspended
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stage is a capture stage the coordinator can drive. Pause, Resume and
// Stop forward the flag changes across whatever boundary the stage runs
// behind; the coordinator has already flipped the shared flags.
type Stage interface {
	Start(ctx context.Context) error
	Pause()
	Resume()
	Stop()
	Wait(timeout time.Duration) error
	Kill() error
}

// StageFactory builds the capture stage for one run.
type StageFactory func(capture.Binding) Stage

// Sink receives every processed frame pair. It is called from the
// transform goroutine.
type Sink interface {
	FrameReady(seq int, original, processed types.Frame)
}

// Report describes a finished run.
type Report struct {
	RunID     string
	Frames    int
	Exhausted bool // the sources ran out, as opposed to a user stop
	Killed    bool // the capture stage had to be force-terminated
	Late      bool // the transform goroutine outlived its join timeout
	Err       error
}

// Options wires the coordinator to the outside world. Callbacks run on
// coordinator goroutines and must not block. OnStateChange runs with the
// coordinator locked and must not call back into it.
type Options struct {
	Stages        StageFactory
	Sink          Sink
	OnStateChange func(State)
	OnStopped     func(Report)
	Logger        *slog.Logger
}

type run struct {
	id     string
	logger *slog.Logger
	stage  Stage

	cancel context.CancelFunc // whole run
	stopTf context.CancelFunc // transform only
	done   chan struct{}      // closed when the transform goroutine exits

	frames    int
	exhausted atomic.Bool
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	cfg  config.Config
	opts Options

	pause *event.Event
	stop  *event.Event

	mu    sync.Mutex
	state State
	queue *queue.Queue
	cur   *run
	idle  chan struct{} // closed while Idle
}

// New returns an idle coordinator.
func New(cfg config.Config, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{
		cfg:   cfg,
		opts:  opts,
		pause: event.New(),
		stop:  event.New(),
		idle:  idle,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a new run reading sel. Frames left over from the previous
// run are discarded.
func (c *Coordinator) Start(ctx context.Context, sel types.Selection) error {
	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, state)
	}
	if !sel.Webcam && len(sel.Paths) == 0 {
		c.mu.Unlock()
		return ErrNoInput
	}

	r := &run{id: uuid.NewString(), done: make(chan struct{})}
	r.logger = c.opts.Logger.With("run", r.id)

	if c.queue != nil {
		if n := c.queue.Drain(); n > 0 {
			r.logger.Info("discarded frames from previous run", "frames", n)
		}
	}
	c.queue = queue.New(c.cfg.QueueSize)
	c.stop.Clear()
	c.pause.Set()

	r.stage = c.opts.Stages(capture.Binding{
		RunID:         r.id,
		Selection:     sel,
		Queue:         c.queue,
		Pause:         c.pause,
		Stop:          c.stop,
		ImageInterval: c.cfg.ImageInterval,
		RetryInterval: c.cfg.RetryInterval,
		Logger:        r.logger.With("stage", "capture"),
	})

	runCtx, cancel := context.WithCancel(ctx)
	if err := r.stage.Start(runCtx); err != nil {
		cancel()
		c.mu.Unlock()
		return fmt.Errorf("failed to start capture stage: %w", err)
	}
	r.cancel = cancel

	tfCtx, stopTf := context.WithCancel(runCtx)
	r.stopTf = stopTf
	consumer := &transform.Consumer{
		Source:  c.queue,
		Pause:   c.pause,
		Stop:    c.stop,
		Timeout: c.cfg.ReadTimeout,
		Emitter: &emitter{c: c, r: r},
		Logger:  r.logger.With("stage", "transform"),
	}
	go func() {
		defer close(r.done)
		n := consumer.Run(tfCtx)
		c.mu.Lock()
		r.frames = n
		c.mu.Unlock()
	}()

	c.cur = r
	c.idle = make(chan struct{})
	c.setState(Running)
	c.mu.Unlock()

	r.logger.Info("pipeline started", "webcam", sel.Webcam, "sources", len(sel.Paths))
	return nil
}

// Suspend parks both stages; queued frames are kept.
func (c *Coordinator) Suspend() error {
	c.mu.Lock()
	if c.state != Running {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: suspend while %s", ErrInvalidState, state)
	}
	c.pause.Clear()
	c.cur.stage.Pause()
	c.setState(Suspended)
	c.mu.Unlock()
	return nil
}

// Resume continues a suspended run.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	if c.state != Suspended {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: resume while %s", ErrInvalidState, state)
	}
	c.pause.Set()
	c.cur.stage.Resume()
	c.setState(Running)
	c.mu.Unlock()
	return nil
}

// Stop ends the current run. It returns immediately; OnStopped fires once
// both stages have been joined.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.state != Running && c.state != Suspended {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidState, state)
	}
	r := c.cur
	c.stop.Set()
	r.stopTf()
	r.stage.Stop()
	c.setState(Stopping)
	c.mu.Unlock()

	r.logger.Info("pipeline stopping")
	go c.join(r)
	return nil
}

// Shutdown stops any active run and waits until the coordinator is idle.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrInvalidState) {
		return err
	}

	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	}
}

func (c *Coordinator) join(r *run) {
	report := Report{RunID: r.id}

	err := r.stage.Wait(c.cfg.CaptureJoinTimeout)
	if errors.Is(err, capture.ErrJoinTimeout) {
		r.logger.Warn("capture stage did not exit, terminating it", "timeout", c.cfg.CaptureJoinTimeout)
		report.Killed = true
		if kerr := r.stage.Kill(); kerr != nil {
			r.logger.Error("failed to terminate capture stage", "err", kerr)
		}
		if err = r.stage.Wait(c.cfg.CaptureJoinTimeout); err != nil {
			r.logger.Error("capture stage still running after kill", "err", err)
		}
	} else if err != nil {
		r.logger.Warn("capture stage failed", "err", err)
		report.Err = err
	}

	timer := time.NewTimer(c.cfg.TransformJoinTimeout)
	select {
	case <-r.done:
	case <-timer.C:
		r.logger.Warn("transform stage did not exit in time", "timeout", c.cfg.TransformJoinTimeout)
		report.Late = true
	}
	timer.Stop()
	r.cancel()

	c.mu.Lock()
	report.Frames = r.frames
	report.Exhausted = r.exhausted.Load()
	c.setState(Idle)
	close(c.idle)
	c.mu.Unlock()

	r.logger.Info("pipeline stopped",
		"frames", report.Frames,
		"exhausted", report.Exhausted,
		"killed", report.Killed)
	if c.opts.OnStopped != nil {
		c.opts.OnStopped(report)
	}
}

// setState must be called with c.mu held, which keeps the callbacks in
// transition order.
func (c *Coordinator) setState(s State) {
	c.state = s
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

// emitter forwards frames to the sink and turns exhaustion into a stop.
type emitter struct {
	c *Coordinator
	r *run
}

func (e *emitter) FrameReady(seq int, original, processed types.Frame) {
	if e.c.opts.Sink != nil {
		e.c.opts.Sink.FrameReady(seq, original, processed)
	}
}

func (e *emitter) Finished() {
	e.r.exhausted.Store(true)
	if err := e.c.Stop(); err != nil {
		e.r.logger.Debug("finished after stop was requested", "err", err)
	}
}
