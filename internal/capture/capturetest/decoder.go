// Package capturetest provides an in-memory decoder for exercising the
// pipeline without a real decoding library.
package capturetest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/types"
)

var errMissing = errors.New("no such source")

// Decoder serves synthetic frames. Each video frame is 2x2 BGR; the first
// byte of frame i (1-based) is i, so ordering can be checked downstream.
type Decoder struct {
	Videos       map[string]int // path -> number of frames
	Images       map[string]bool
	CameraFrames int // < 0 makes OpenCamera fail
	FrameDelay   time.Duration

	reads  atomic.Int64
	mu     sync.Mutex
	opened []string
}

// Reads returns how many frames were decoded so far.
func (d *Decoder) Reads() int { return int(d.reads.Load()) }

// Opened returns the sources opened so far, in order.
func (d *Decoder) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

func (d *Decoder) record(name string) {
	d.mu.Lock()
	d.opened = append(d.opened, name)
	d.mu.Unlock()
}

func (d *Decoder) OpenVideo(path string) (capture.Video, error) {
	n, ok := d.Videos[path]
	if !ok {
		return nil, errMissing
	}
	d.record(path)
	return &video{d: d, total: n}, nil
}

func (d *Decoder) OpenCamera(index int) (capture.Video, error) {
	if d.CameraFrames < 0 {
		return nil, errMissing
	}
	d.record("camera")
	return &video{d: d, total: d.CameraFrames}, nil
}

func (d *Decoder) ReadImage(path string) (types.Frame, error) {
	if !d.Images[path] {
		return types.Frame{}, errMissing
	}
	d.record(path)
	d.reads.Add(1)
	return Frame(0xFF), nil
}

// Frame builds a 2x2 BGR frame tagged with tag.
func Frame(tag byte) types.Frame {
	f := types.NewFrame(2, 2, 3)
	f.Data[0] = tag
	return f
}

type video struct {
	d     *Decoder
	total int
	n     int
}

func (v *video) Read() (types.Frame, bool) {
	if v.n >= v.total {
		return types.Frame{}, false
	}
	if v.d.FrameDelay > 0 {
		time.Sleep(v.d.FrameDelay)
	}
	v.n++
	v.d.reads.Add(1)
	return Frame(byte(v.n)), true
}

func (v *video) Close() error { return nil }
