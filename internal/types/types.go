package types

import "fmt"

// Frame is one decoded bitmap moving through the pipeline.
// Pixels are interleaved 8-bit samples, BGR order for 3-channel frames.
type Frame struct {
	Rows     int
	Cols     int
	Channels int
	Data     []byte
}

// NewFrame allocates a zeroed frame of the given geometry.
func NewFrame(rows, cols, channels int) Frame {
	return Frame{
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
		Data:     make([]byte, rows*cols*channels),
	}
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Rows == 0 || f.Cols == 0 || len(f.Data) == 0
}

// Validate checks that the pixel buffer matches the declared geometry.
func (f Frame) Validate() error {
	if f.Rows <= 0 || f.Cols <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Cols, f.Rows)
	}
	if f.Channels != 1 && f.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if want := f.Rows * f.Cols * f.Channels; len(f.Data) != want {
		return fmt.Errorf("frame data is %d bytes, expected %d", len(f.Data), want)
	}
	return nil
}

// Clone returns a deep copy so the caller may reuse its buffer.
func (f Frame) Clone() Frame {
	c := f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return c
}

// Selection describes what the capture stage should read.
type Selection struct {
	Webcam bool
	Camera int
	Paths  []string
}
