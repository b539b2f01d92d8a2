package ui

import (
	"bytes"
	"strings"
	"sync"
)

// logBuffer collects log output for the panel. Writes may come from any
// goroutine; the GUI picks up a snapshot on its own schedule. Only the
// newest maxLines lines are kept.
type logBuffer struct {
	mu       sync.Mutex
	lines    []string
	partial  []byte
	maxLines int
	dirty    bool
}

func newLogBuffer(maxLines int) *logBuffer {
	return &logBuffer{maxLines: maxLines}
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.lines = append(b.lines, string(data[:i]))
		data = data[i+1:]
		b.dirty = true
	}
	b.partial = append([]byte(nil), data...)

	if over := len(b.lines) - b.maxLines; over > 0 {
		b.lines = append([]string(nil), b.lines[over:]...)
	}
	return len(p), nil
}

// Snapshot returns the buffered lines and whether anything changed since
// the previous call.
func (b *logBuffer) Snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	changed := b.dirty
	b.dirty = false
	return strings.Join(b.lines, "\n"), changed
}

func (b *logBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
	b.partial = nil
	b.dirty = true
}
