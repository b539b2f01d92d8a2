package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/event"
	"github.com/andresmejia3/imatest/internal/queue"
	"github.com/andresmejia3/imatest/internal/types"
	"github.com/andresmejia3/imatest/internal/utils"
)

// ErrStreamEnded is returned by Bridge when the data pipe closed without an
// end-of-stream marker, which means the child died.
var ErrStreamEnded = errors.New("capture stream ended without end-of-stream marker")

// CaptureProcess runs the capture stage as `imatest capture` in a child
// process. Frames come back over FD 3; control goes over stdin.
type CaptureProcess struct {
	b      capture.Binding
	args   []string
	mirror io.Writer

	cmd   *utils.SafeCommand
	stdin io.WriteCloser
	data  io.ReadCloser

	ctlMu     sync.Mutex
	closeOnce sync.Once

	done chan struct{}
	err  error
}

// NewCaptureProcess prepares a child for b. args are the leading arguments
// of the child command line (subcommand and shared flags); the selection and
// timing flags of b are appended. Child stderr is copied to mirror.
func NewCaptureProcess(b capture.Binding, args []string, mirror io.Writer) *CaptureProcess {
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if b.RetryInterval <= 0 {
		b.RetryInterval = 10 * time.Millisecond
	}
	return &CaptureProcess{
		b:      b,
		args:   args,
		mirror: mirror,
		done:   make(chan struct{}),
	}
}

// ChildArgs returns the full argument list passed to the child.
func (p *CaptureProcess) ChildArgs() []string {
	args := append([]string(nil), p.args...)
	args = append(args,
		"--run-id", p.b.RunID,
		"--image-interval", p.b.ImageInterval.String(),
		"--retry-interval", p.b.RetryInterval.String(),
	)
	sel := p.b.Selection
	if sel.Webcam {
		args = append(args, "--webcam", "--camera", strconv.Itoa(sel.Camera))
	}
	if len(sel.Paths) > 0 {
		args = append(args, "--")
		args = append(args, sel.Paths...)
	}
	return args
}

// Start launches the child and the bridge goroutine.
func (p *CaptureProcess) Start(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	cmd := utils.NewSafeCommand(ctx, p.mirror, exe, p.ChildArgs()...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return fmt.Errorf("capture process failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	p.cmd, p.stdin, p.data = cmd, stdin, r
	p.b.Logger.Info("capture process started", "pid", cmd.Process.Pid)

	go p.supervise(ctx)
	return nil
}

func (p *CaptureProcess) supervise(ctx context.Context) {
	defer close(p.done)
	defer p.b.Queue.Close()

	n, berr := Bridge(ctx, p.data, p.b.Queue, p.b.Pause, p.b.Stop, p.b.RetryInterval)
	p.data.Close()
	werr := p.cmd.Wait()

	switch {
	case berr != nil && !p.b.Stop.IsSet():
		utils.ShowError("capture process failed", berr, p.cmd)
		p.err = berr
	case werr != nil && !p.b.Stop.IsSet():
		utils.ShowError("capture process exited with an error", werr, p.cmd)
		p.err = werr
	}
	p.b.Logger.Info("capture process exited", "frames", n, "err", p.err)
}

// Bridge reads frames from r and puts them into q until the end-of-stream
// marker. A full queue is retried every retry interval; while stop is set,
// frames are read and discarded so the child never blocks on a full pipe.
// It returns the number of frames queued.
func Bridge(ctx context.Context, r io.Reader, q *queue.Queue, pause, stop *event.Event, retry time.Duration) (int, error) {
	n := 0
	for {
		kind, payload, err := ReadMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, ErrStreamEnded
			}
			return n, err
		}

		switch kind {
		case KindEOS:
			return n, nil
		case KindFrame:
		default:
			return n, fmt.Errorf("unknown message kind %q", kind)
		}

		f, err := DecodeFrame(payload)
		if err != nil {
			return n, err
		}
		queued, err := forward(ctx, q, f, pause, stop, retry)
		if err != nil {
			return n, err
		}
		if queued {
			n++
		}
	}
}

// forward puts f into q unless the run is stopping. Only unexpected queue
// errors are returned.
func forward(ctx context.Context, q *queue.Queue, f types.Frame, pause, stop *event.Event, retry time.Duration) (bool, error) {
	for event.Await(ctx, pause, stop) {
		err := q.Put(ctx, f, retry)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, queue.ErrFull):
		case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
			return false, nil
		default:
			return false, err
		}
	}
	return false, nil
}

func (p *CaptureProcess) send(cmd byte) {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	if p.stdin == nil {
		return
	}
	if _, err := p.stdin.Write([]byte{cmd}); err != nil {
		p.b.Logger.Debug("control write failed", "cmd", string(cmd), "err", err)
	}
}

func (p *CaptureProcess) Pause()  { p.send(CmdPause) }
func (p *CaptureProcess) Resume() { p.send(CmdResume) }

// Stop asks the child to stop and closes its stdin.
func (p *CaptureProcess) Stop() {
	p.send(CmdStop)
	p.closeOnce.Do(func() {
		p.ctlMu.Lock()
		defer p.ctlMu.Unlock()
		if p.stdin != nil {
			p.stdin.Close()
		}
	})
}

// Wait joins the child and the bridge for at most timeout.
func (p *CaptureProcess) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.err
	case <-timer.C:
		return capture.ErrJoinTimeout
	}
}

// Kill terminates the child.
func (p *CaptureProcess) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
