package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/capture/capturetest"
	"github.com/andresmejia3/imatest/internal/event"
	"github.com/andresmejia3/imatest/internal/queue"
	"github.com/andresmejia3/imatest/internal/types"
)

func newProducer(dec capture.Decoder, q *queue.Queue) *capture.Producer {
	pause, stop := event.New(), event.New()
	pause.Set()
	return &capture.Producer{
		Decoder:       dec,
		Sink:          q,
		Pause:         pause,
		Stop:          stop,
		ImageInterval: 0,
		RetryInterval: 10 * time.Millisecond,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want capture.Kind
	}{
		{"clip.mp4", capture.KindVideo},
		{"/data/CLIP.MKV", capture.KindVideo},
		{"movie.avi", capture.KindVideo},
		{"shot.jpeg", capture.KindImage},
		{"shot.PNG", capture.KindImage},
		{"scan.tiff", capture.KindImage},
		{"notes.txt", capture.KindUnsupported},
		{"noext", capture.KindUnsupported},
	}
	for _, tt := range tests {
		if got := capture.Classify(tt.path); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExtensionsAreClassified(t *testing.T) {
	exts := capture.Extensions()
	if len(exts) != 10 {
		t.Fatalf("Extensions() = %v, want 10 entries", exts)
	}
	for _, ext := range exts {
		if capture.Classify("file"+ext) == capture.KindUnsupported {
			t.Errorf("extension %s is listed but unsupported", ext)
		}
	}
}

func TestAllImages(t *testing.T) {
	if !capture.AllImages([]string{"a.jpg", "b.png"}) {
		t.Error("expected all images")
	}
	if capture.AllImages([]string{"a.jpg", "b.mp4"}) {
		t.Error("mixed input reported as all images")
	}
	if capture.AllImages(nil) {
		t.Error("empty input reported as all images")
	}
}

func TestRunEnqueuesInOrderAndSkipsBadSources(t *testing.T) {
	dec := &capturetest.Decoder{
		Videos: map[string]int{"a.mp4": 3, "b.mov": 2},
		Images: map[string]bool{"c.png": true},
	}
	q := queue.New(16)
	p := newProducer(dec, q)

	sel := types.Selection{Paths: []string{"a.mp4", "missing.avi", "notes.txt", "c.png", "broken.jpg", "b.mov"}}
	st, err := p.Run(context.Background(), sel)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if st.Decoded != 6 || st.Enqueued != 6 {
		t.Errorf("Stats = %+v, want 6 decoded and 6 enqueued", st)
	}
	if st.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", st.Skipped)
	}

	want := []byte{1, 2, 3, 0xFF, 1, 2}
	for i, tag := range want {
		f, err := q.Get(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Get #%d failed: %v", i, err)
		}
		if f.Data[0] != tag {
			t.Errorf("frame #%d tag = %d, want %d", i, f.Data[0], tag)
		}
	}
	if _, err := q.Get(context.Background(), time.Second); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("Expected end-of-stream after last frame, got %v", err)
	}
}

func TestRunWithoutPaths(t *testing.T) {
	q := queue.New(1)
	p := newProducer(&capturetest.Decoder{}, q)

	_, err := p.Run(context.Background(), types.Selection{})
	if !errors.Is(err, capture.ErrNoSources) {
		t.Fatalf("Expected ErrNoSources, got %v", err)
	}
	if !p.Stop.IsSet() {
		t.Error("stop flag should be set when there is nothing to read")
	}
}

func TestRunWebcam(t *testing.T) {
	dec := &capturetest.Decoder{CameraFrames: 4}
	q := queue.New(8)
	p := newProducer(dec, q)

	st, err := p.Run(context.Background(), types.Selection{Webcam: true})
	if err != nil {
		t.Fatal(err)
	}
	if st.Enqueued != 4 || q.Len() != 4 {
		t.Errorf("Enqueued = %d, queue holds %d; want 4", st.Enqueued, q.Len())
	}
}

func TestImageDroppedWhenQueueFull(t *testing.T) {
	dec := &capturetest.Decoder{Images: map[string]bool{"a.jpg": true}}
	q := queue.New(1)
	q.TryPut(capturetest.Frame(9))
	p := newProducer(dec, q)

	st, err := p.Run(context.Background(), types.Selection{Paths: []string{"a.jpg"}})
	if err != nil {
		t.Fatal(err)
	}
	if st.Dropped != 1 || st.Enqueued != 0 {
		t.Errorf("Stats = %+v, want the image dropped", st)
	}
}

func TestStopWhileQueueFull(t *testing.T) {
	dec := &capturetest.Decoder{Videos: map[string]int{"long.mp4": 1000}}
	q := queue.New(1)
	p := newProducer(dec, q)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), types.Selection{Paths: []string{"long.mp4"}})
	}()

	// Wait until the producer is parked on a full queue
	deadline := time.Now().Add(time.Second)
	for dec.Reads() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	p.Stop.Set()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("producer did not honor stop while the queue was full")
	}
	if dec.Reads() > 3 {
		t.Errorf("producer kept decoding on a full queue: %d reads", dec.Reads())
	}
}

func TestPauseBlocksProgress(t *testing.T) {
	dec := &capturetest.Decoder{Videos: map[string]int{"a.mp4": 5}}
	q := queue.New(8)
	p := newProducer(dec, q)
	p.Pause.Clear()

	done := make(chan capture.Stats, 1)
	go func() {
		st, _ := p.Run(context.Background(), types.Selection{Paths: []string{"a.mp4"}})
		done <- st
	}()

	time.Sleep(30 * time.Millisecond)
	if dec.Reads() != 0 || q.Len() != 0 {
		t.Fatalf("producer made progress while paused: %d reads", dec.Reads())
	}

	p.Pause.Set()
	select {
	case st := <-done:
		if st.Enqueued != 5 {
			t.Errorf("Enqueued = %d after resume, want 5", st.Enqueued)
		}
	case <-time.After(time.Second):
		t.Fatal("producer did not resume")
	}
}

func TestPauseBlocksImages(t *testing.T) {
	dec := &capturetest.Decoder{Images: map[string]bool{"a.jpg": true, "b.jpg": true, "c.jpg": true}}
	q := queue.New(8)
	p := newProducer(dec, q)
	p.ImageInterval = time.Millisecond
	p.Pause.Clear()

	done := make(chan capture.Stats, 1)
	go func() {
		st, _ := p.Run(context.Background(), types.Selection{Paths: []string{"a.jpg", "b.jpg", "c.jpg"}})
		done <- st
	}()

	time.Sleep(50 * time.Millisecond)
	if dec.Reads() != 0 || q.Len() != 0 {
		t.Fatalf("producer decoded images while paused: %d reads, %d queued", dec.Reads(), q.Len())
	}

	p.Pause.Set()
	select {
	case st := <-done:
		if st.Enqueued != 3 {
			t.Errorf("Enqueued = %d after resume, want 3", st.Enqueued)
		}
	case <-time.After(time.Second):
		t.Fatal("producer did not resume")
	}
}

func TestImageIntervalInterruptedByStop(t *testing.T) {
	dec := &capturetest.Decoder{Images: map[string]bool{"a.jpg": true, "b.jpg": true}}
	q := queue.New(4)
	p := newProducer(dec, q)
	p.ImageInterval = 10 * time.Second

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), types.Selection{Paths: []string{"a.jpg", "b.jpg"}})
	}()

	time.Sleep(20 * time.Millisecond)
	p.Stop.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("image interval ignored the stop flag")
	}
	if got := dec.Opened(); len(got) != 1 {
		t.Errorf("opened %v, expected only the first image", got)
	}
}

func TestLocalStage(t *testing.T) {
	dec := &capturetest.Decoder{Videos: map[string]int{"a.mp4": 3}}
	pause, stop := event.New(), event.New()
	pause.Set()
	b := capture.Binding{
		Selection:     types.Selection{Paths: []string{"a.mp4"}},
		Queue:         queue.New(8),
		Pause:         pause,
		Stop:          stop,
		RetryInterval: 10 * time.Millisecond,
	}

	s := capture.NewLocalStage(dec, b)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(time.Second); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	st, err := s.Result()
	if err != nil || st.Enqueued != 3 {
		t.Errorf("Result() = %+v, %v", st, err)
	}
}

func TestLocalStageJoinTimeout(t *testing.T) {
	dec := &capturetest.Decoder{Videos: map[string]int{"a.mp4": 3}}
	pause, stop := event.New(), event.New() // never resumed
	b := capture.Binding{
		Selection:     types.Selection{Paths: []string{"a.mp4"}},
		Queue:         queue.New(8),
		Pause:         pause,
		Stop:          stop,
		RetryInterval: 10 * time.Millisecond,
	}

	s := capture.NewLocalStage(dec, b)
	s.Start(context.Background())
	if err := s.Wait(20 * time.Millisecond); !errors.Is(err, capture.ErrJoinTimeout) {
		t.Fatalf("Expected ErrJoinTimeout, got %v", err)
	}
	s.Kill()
	if err := s.Wait(time.Second); err != nil {
		t.Fatalf("stage did not exit after Kill: %v", err)
	}
}
