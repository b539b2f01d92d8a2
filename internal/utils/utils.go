package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd and keeps the tail of its Stderr
// so a crash of the capture process can still be reported.
type SafeCommand struct {
	*exec.Cmd
	Stderr *TailBuffer
}

// NewSafeCommand initializes a command whose Stderr goes to a tail buffer
// and, when mirror is non-nil, to mirror as well.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, mirror io.Writer, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := NewTailBuffer(64 * 1024)
	if mirror != nil {
		cmd.Stderr = io.MultiWriter(stderr, mirror)
	} else {
		cmd.Stderr = stderr
	}
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// TailBuffer is a goroutine-safe writer that remembers the last max bytes.
type TailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *TailBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// ShowError prints a formatted error box and dumps the child logs if a
// SafeCommand is provided. It does not exit.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 IMATEST ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nCAPTURE PROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Video Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// GetTotalFrames uses ffprobe to count frames for the progress bar.
// It returns 0 if the count fails, allowing the caller to fall back to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	type ffprobeOutput struct {
		Streams []struct {
			NbFrames      string `json:"nb_frames"`
			NbReadPackets string `json:"nb_read_packets"`
		} `json:"streams"`
	}

	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	cmdFast := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=nb_frames", "-of", "json", path)
	if out, err := cmdFast.Output(); err == nil {
		var res ffprobeOutput
		if json.Unmarshal(out, &res) == nil && len(res.Streams) > 0 {
			if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
				return count
			}
		}
	}

	// 2. Slow Path: Count Packets (Fallback)
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing for %s. Counting frames (this may take a moment)...\n", path)
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)

	out, err := cmd.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe JSON parse error: %v\n", err)
		return 0
	}
	if len(res.Streams) == 0 {
		return 0
	}

	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe integer parse error: %v\n", err)
		return 0
	}
	return count
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd creates a decoder pipe that emits MJPEG frames on Stdout.
func NewFFmpegCmd(ctx context.Context, inputPath string) *exec.Cmd {
	// -hide_banner and -loglevel error keep the stderr buffer small
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-i", inputPath, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// NewFFmpegCameraCmd is NewFFmpegCmd for a V4L2 capture device.
func NewFFmpegCameraCmd(ctx context.Context, index int) *exec.Cmd {
	device := fmt.Sprintf("/dev/video%d", index)
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "v4l2", "-i", device, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}
