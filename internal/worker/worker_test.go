package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/capture/capturetest"
	"github.com/andresmejia3/imatest/internal/event"
	"github.com/andresmejia3/imatest/internal/queue"
	"github.com/andresmejia3/imatest/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func running() (pause, stop *event.Event) {
	pause, stop = event.New(), event.New()
	pause.Set()
	return pause, stop
}

func writeFrames(t *testing.T, w io.Writer, n int, eos bool) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if err := WriteMessage(w, KindFrame, EncodeFrame(capturetest.Frame(byte(i)))); err != nil {
			t.Fatal(err)
		}
	}
	if eos {
		if err := WriteMessage(w, KindEOS, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFrameMessage(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	in := types.NewFrame(3, 2, 1)
	copy(in.Data, []byte{1, 2, 3, 4, 5, 6})

	if err := WriteMessage(pipe, KindFrame, EncodeFrame(in)); err != nil {
		t.Fatal(err)
	}
	// 4 bytes length + 1 kind + 9 header + 6 pixels
	if pipe.Len() != 4+1+9+6 {
		t.Errorf("Expected %d bytes on the wire, got %d", 4+1+9+6, pipe.Len())
	}

	kind, payload, err := ReadMessage(pipe)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if kind != KindFrame {
		t.Fatalf("Expected kind F, got %q", kind)
	}
	out, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if out.Rows != 3 || out.Cols != 2 || out.Channels != 1 || !bytes.Equal(out.Data, in.Data) {
		t.Errorf("Decoded frame mismatch: %+v", out)
	}

	if _, _, err := ReadMessage(pipe); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF at a message boundary, got %v", err)
	}
}

func TestReadMessage_Truncated(t *testing.T) {
	var buf bytes.Buffer
	writeFrames(t, &buf, 1, false)
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])

	if _, _, err := ReadMessage(truncated); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadMessage_TooLarge(t *testing.T) {
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if _, _, err := ReadMessage(bytes.NewReader(header)); !errors.Is(err, errMessageTooLarge) {
		t.Errorf("Expected size error, got %v", err)
	}
}

func TestDecodeFrame_BadGeometry(t *testing.T) {
	payload := EncodeFrame(capturetest.Frame(1))
	if _, err := DecodeFrame(payload[:len(payload)-1]); err == nil {
		t.Error("Expected a geometry error for a short pixel buffer")
	}
}

func TestBridge(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	writeFrames(t, pipe, 3, true)

	q := queue.New(10)
	pause, stop := running()
	n, err := Bridge(context.Background(), pipe, q, pause, stop, time.Millisecond)
	if err != nil {
		t.Fatalf("Bridge failed: %v", err)
	}
	if n != 3 || q.Len() != 3 {
		t.Fatalf("Expected 3 frames queued, got n=%d len=%d", n, q.Len())
	}
	for i := 1; i <= 3; i++ {
		f, err := q.Get(context.Background(), time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if f.Data[0] != byte(i) {
			t.Errorf("Frame %d out of order: tag %d", i, f.Data[0])
		}
	}
}

// Drops happen in the child; a frame already on the pipe waits for room.
func TestBridge_FullQueueRetries(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	writeFrames(t, pipe, 3, true)

	q := queue.New(1)
	pause, stop := running()
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := Bridge(context.Background(), pipe, q, pause, stop, time.Millisecond)
		done <- result{n, err}
	}()

	for i := 1; i <= 3; i++ {
		time.Sleep(10 * time.Millisecond)
		f, err := q.Get(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Get #%d failed: %v", i, err)
		}
		if f.Data[0] != byte(i) {
			t.Errorf("frame #%d tag = %d", i, f.Data[0])
		}
	}

	select {
	case r := <-done:
		if r.err != nil || r.n != 3 {
			t.Errorf("Bridge() = %d, %v; want 3 frames and no error", r.n, r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("Bridge did not finish")
	}
}

func TestBridge_NoEOS(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	writeFrames(t, pipe, 2, false)

	pause, stop := running()
	n, err := Bridge(context.Background(), pipe, queue.New(10), pause, stop, time.Millisecond)
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("Expected ErrStreamEnded, got %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 frames before the crash, got %d", n)
	}
}

func TestBridge_DiscardsAfterStop(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	writeFrames(t, pipe, 5, true)

	q := queue.New(1)
	pause, stop := running()
	stop.Set()

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := Bridge(context.Background(), pipe, q, pause, stop, time.Millisecond)
		if err != nil || n != 0 {
			t.Errorf("Expected a clean drain, got n=%d err=%v", n, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Bridge blocked on a full queue after stop")
	}
	if q.Len() != 0 {
		t.Errorf("Expected no frames queued after stop, got %d", q.Len())
	}
}

func TestReadControl(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantPause bool // true == running
	}{
		{"EOF stops", "", true},
		{"pause then EOF", "p", false},
		{"pause resume", "pr", true},
		{"explicit stop", "psr", false},
		{"unknown bytes ignored", "x?r", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pause, stop := running()
			ReadControl(strings.NewReader(tt.input), pause, stop)
			if !stop.IsSet() {
				t.Error("Expected stop after control stream ended")
			}
			if pause.IsSet() != tt.wantPause {
				t.Errorf("pause.IsSet() = %v, want %v", pause.IsSet(), tt.wantPause)
			}
		})
	}
}

func TestPipeSink(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	stop := event.New()
	sink := NewPipeSink(context.Background(), pipe, 4, time.Millisecond, stop)

	for i := 1; i <= 3; i++ {
		if err := sink.Put(context.Background(), capturetest.Frame(byte(i)), time.Second); err != nil {
			t.Fatal(err)
		}
	}
	sink.Close()
	if err := sink.Wait(); err != nil {
		t.Fatalf("PipeSink writer failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		kind, payload, err := ReadMessage(pipe)
		if err != nil || kind != KindFrame {
			t.Fatalf("Message %d: kind=%q err=%v", i, kind, err)
		}
		if payload[9] != byte(i) {
			t.Errorf("Message %d carries tag %d", i, payload[9])
		}
	}
	if kind, _, err := ReadMessage(pipe); err != nil || kind != KindEOS {
		t.Errorf("Expected trailing EOS, got kind=%q err=%v", kind, err)
	}
}

type brokenPipe struct{}

func (brokenPipe) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestPipeSink_WriteFailureStops(t *testing.T) {
	stop := event.New()
	sink := NewPipeSink(context.Background(), brokenPipe{}, 4, time.Millisecond, stop)
	sink.TryPut(capturetest.Frame(1))

	if err := sink.Wait(); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Expected the pipe error, got %v", err)
	}
	if !stop.IsSet() {
		t.Error("Expected stop to be set after a write failure")
	}
}

func TestServe(t *testing.T) {
	dec := &capturetest.Decoder{Videos: map[string]int{"a.mp4": 4}}
	ctl, ctlW := io.Pipe()
	defer ctlW.Close()
	data := &MockCloser{Buffer: new(bytes.Buffer)}

	stats, err := Serve(context.Background(), ServeOptions{
		Decoder:       dec,
		Selection:     types.Selection{Paths: []string{"a.mp4", "notes.txt"}},
		Control:       ctl,
		Data:          data,
		QueueSize:     8,
		ImageInterval: time.Millisecond,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if stats != (capture.Stats{Decoded: 4, Enqueued: 4, Skipped: 1}) {
		t.Errorf("Unexpected stats %+v", stats)
	}

	q := queue.New(8)
	pause, stop := running()
	n, err := Bridge(context.Background(), data, q, pause, stop, time.Millisecond)
	if err != nil || n != 4 {
		t.Fatalf("Expected 4 bridged frames, got n=%d err=%v", n, err)
	}
}

func TestServe_StopFromParent(t *testing.T) {
	dec := &capturetest.Decoder{CameraFrames: 1 << 30, FrameDelay: time.Millisecond}
	ctl, ctlW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		_, err := Serve(context.Background(), ServeOptions{
			Decoder:       dec,
			Selection:     types.Selection{Webcam: true},
			Control:       ctl,
			Data:          io.Discard,
			QueueSize:     8,
			RetryInterval: time.Millisecond,
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ctlW.Write([]byte{CmdStop})

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v after stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not exit after the stop command")
	}
	ctlW.Close()
}

func TestChildArgs(t *testing.T) {
	p := NewCaptureProcess(capture.Binding{
		RunID:         "run-1",
		Selection:     types.Selection{Paths: []string{"a.mp4", "-odd.png"}},
		ImageInterval: 1500 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	}, []string{"capture", "--decoder", "ffmpeg"}, nil)

	got := strings.Join(p.ChildArgs(), " ")
	want := "capture --decoder ffmpeg --run-id run-1 --image-interval 1.5s --retry-interval 10ms -- a.mp4 -odd.png"
	if got != want {
		t.Errorf("ChildArgs()\n got: %s\nwant: %s", got, want)
	}
}
