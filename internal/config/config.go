package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Decoder backends
const (
	DecoderGoCV   = "gocv"
	DecoderFFmpeg = "ffmpeg"
)

// Isolation modes for the capture stage
const (
	IsolationProcess = "process" // capture runs in a child process
	IsolationInline  = "inline"  // capture runs as a goroutine
)

// Config holds every tunable of the pipeline and the preview shell.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	Decoder   string `yaml:"decoder"`
	Isolation string `yaml:"isolation"`
	Camera    int    `yaml:"camera"` // webcam device index

	QueueSize     int           `yaml:"queue_size"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`   // transform stage gives up after this long without a frame
	ImageInterval time.Duration `yaml:"image_interval"` // pause between still images
	RetryInterval time.Duration `yaml:"retry_interval"` // longest a video frame waits on a full queue before the stop flag is re-checked

	CaptureJoinTimeout   time.Duration `yaml:"capture_join_timeout"`
	TransformJoinTimeout time.Duration `yaml:"transform_join_timeout"`

	PreviewWidth  int `yaml:"preview_width"`
	PreviewHeight int `yaml:"preview_height"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:  "info",
		Decoder:   DecoderGoCV,
		Isolation: IsolationProcess,
		Camera:    0,

		QueueSize:     300, // ~10s of 30fps video
		ReadTimeout:   3 * time.Second,
		ImageInterval: 1500 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,

		CaptureJoinTimeout:   5 * time.Second,
		TransformJoinTimeout: 3 * time.Second,

		PreviewWidth:  580,
		PreviewHeight: 440,
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Decoder {
	case DecoderGoCV, DecoderFFmpeg:
	default:
		return fmt.Errorf("decoder must be %q or %q, got %q", DecoderGoCV, DecoderFFmpeg, c.Decoder)
	}
	switch c.Isolation {
	case IsolationProcess, IsolationInline:
	default:
		return fmt.Errorf("isolation must be %q or %q, got %q", IsolationProcess, IsolationInline, c.Isolation)
	}
	if c.Camera < 0 {
		return fmt.Errorf("camera index must be >= 0, got %d", c.Camera)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be >= 1, got %d", c.QueueSize)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"read_timeout", c.ReadTimeout},
		{"retry_interval", c.RetryInterval},
		{"capture_join_timeout", c.CaptureJoinTimeout},
		{"transform_join_timeout", c.TransformJoinTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}
	if c.ImageInterval < 0 {
		return fmt.Errorf("image_interval must not be negative, got %s", c.ImageInterval)
	}
	if c.PreviewWidth < 1 || c.PreviewHeight < 1 {
		return fmt.Errorf("preview size must be positive, got %dx%d", c.PreviewWidth, c.PreviewHeight)
	}
	return nil
}
