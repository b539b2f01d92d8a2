// Package capture reads frames from webcams, video files and still images
// and feeds them into a bounded sink.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresmejia3/imatest/internal/event"
	"github.com/andresmejia3/imatest/internal/queue"
	"github.com/andresmejia3/imatest/internal/types"
)

// ErrNoSources is returned when file mode is started without any path.
var ErrNoSources = errors.New("no input sources")

// Sink receives decoded frames. *queue.Queue satisfies it.
type Sink interface {
	Put(ctx context.Context, f types.Frame, timeout time.Duration) error
	TryPut(f types.Frame) bool
	Close()
}

// Stats counts what happened to the frames of one run.
type Stats struct {
	Decoded  int
	Enqueued int
	Dropped  int
	Skipped  int // sources that could not be opened or were unsupported
}

// Producer is the capture loop. Pause is the run flag (set == running).
type Producer struct {
	Decoder Decoder
	Sink    Sink
	Pause   *event.Event
	Stop    *event.Event

	ImageInterval time.Duration
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Run reads every selected source in turn until they are exhausted or the
// stop flag is set. The sink is closed on return, marking end-of-stream.
func (p *Producer) Run(ctx context.Context, sel types.Selection) (Stats, error) {
	defer p.Sink.Close()

	var st Stats
	if sel.Webcam {
		label := fmt.Sprintf("webcam:%d", sel.Camera)
		return st, p.playVideo(ctx, &st, label, func() (Video, error) {
			return p.Decoder.OpenCamera(sel.Camera)
		})
	}

	if len(sel.Paths) == 0 {
		p.log().Info("video path list is empty")
		p.Stop.Set()
		return st, ErrNoSources
	}

	for _, path := range sel.Paths {
		// Still images have no per-frame wait, so a suspend parks here
		if !event.Await(ctx, p.Pause, p.Stop) {
			break
		}

		var err error
		switch Classify(path) {
		case KindVideo:
			err = p.playVideo(ctx, &st, path, func() (Video, error) {
				return p.Decoder.OpenVideo(path)
			})
		case KindImage:
			err = p.showImage(ctx, &st, path)
		default:
			st.Skipped++
			p.log().Info("unsupported file type", "path", path)
		}
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

func (p *Producer) playVideo(ctx context.Context, st *Stats, label string, open func() (Video, error)) error {
	v, err := open()
	if err != nil {
		st.Skipped++
		p.log().Info("failed to open video source", "source", label, "err", err)
		return nil
	}
	defer v.Close()

	for event.Await(ctx, p.Pause, p.Stop) {
		frame, ok := v.Read()
		if !ok {
			p.log().Info("video source finished", "source", label)
			return nil
		}
		st.Decoded++

		if err := p.enqueue(ctx, frame); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			return nil
		}
		st.Enqueued++
	}
	return nil
}

// enqueue retries a full sink in RetryInterval steps so the stop flag is
// re-checked between attempts.
func (p *Producer) enqueue(ctx context.Context, frame types.Frame) error {
	for {
		err := p.Sink.Put(ctx, frame, p.RetryInterval)
		if err == nil {
			return nil
		}
		if !errors.Is(err, queue.ErrFull) {
			return err
		}
		if p.stopped(ctx) {
			return err
		}
	}
}

func (p *Producer) showImage(ctx context.Context, st *Stats, path string) error {
	frame, err := p.Decoder.ReadImage(path)
	if err != nil {
		st.Skipped++
		p.log().Info("failed to open image file", "path", path, "err", err)
		return nil
	}
	st.Decoded++

	if p.Sink.TryPut(frame) {
		st.Enqueued++
	} else {
		st.Dropped++
		p.log().Info("queue is full, image dropped", "path", path)
	}

	// Still images have no natural frame timing
	timer := time.NewTimer(p.ImageInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.Stop.Done():
	case <-ctx.Done():
	}
	return nil
}

func (p *Producer) stopped(ctx context.Context) bool {
	return p.Stop.IsSet() || ctx.Err() != nil
}

func (p *Producer) log() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
