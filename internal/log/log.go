// Package log provides structured logging for imatest.
// Output goes to stdout and to any attached mirror, such as the GUI log panel.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
	out    = &mirror{primary: os.Stdout}
)

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error"
func Init(level string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{Level: ParseLevel(level)}

		if os.Getenv("IMATEST_LOG_FORMAT") == "json" {
			logger = slog.New(slog.NewJSONHandler(out, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(out, opts))
		}

		slog.SetDefault(logger)
	})
}

// InitTo points the logger at w instead of stdout. The capture child uses it
// to log on stderr, which its parent mirrors.
func InitTo(w io.Writer, level string) {
	out.setPrimary(w)
	Init(level)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the global logger instance, initializing it at info level if
// Init has not run yet.
func L() *slog.Logger {
	Init("info")
	return logger
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Writer returns the raw log stream. Output from child processes is copied
// here so it reaches the same mirrors as our own records.
func Writer() io.Writer {
	return out
}

// Attach adds w as a mirror of the log stream and returns a function that
// removes it again.
func Attach(w io.Writer) (detach func()) {
	return out.attach(w)
}

type mirror struct {
	mu      sync.Mutex
	primary io.Writer
	extra   map[int]io.Writer
	nextID  int
}

func (m *mirror) setPrimary(w io.Writer) {
	m.mu.Lock()
	m.primary = w
	m.mu.Unlock()
}

func (m *mirror) attach(w io.Writer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extra == nil {
		m.extra = make(map[int]io.Writer)
	}
	id := m.nextID
	m.nextID++
	m.extra[id] = w
	return func() {
		m.mu.Lock()
		delete(m.extra, id)
		m.mu.Unlock()
	}
}

// Write never fails because of a mirror; only the primary error is reported.
func (m *mirror) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.extra {
		_, _ = w.Write(p)
	}
	return m.primary.Write(p)
}
