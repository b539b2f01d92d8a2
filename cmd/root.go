package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/imatest/internal/config"
	"github.com/andresmejia3/imatest/internal/log"
	"github.com/andresmejia3/imatest/internal/ui"
)

// Options holds the persistent flags shared by every command. Flags that
// were set on the command line win over the config file.
type Options struct {
	ConfigPath  string
	LogLevel    string
	Decoder     string
	Isolation   string
	Camera      int
	QueueSize   int
	ReadTimeout time.Duration
}

var (
	rootOpts Options
	// cfg is the resolved configuration, available after PersistentPreRunE
	cfg config.Config
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:          "imatest",
	Short:        "Live image test bench: capture, grayscale, preview",
	Version:      Version, // This enables the --version flag
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		resolved, err := resolveConfig(rootOpts, cmd.Flags().Changed)
		if err != nil {
			return err
		}
		cfg = resolved

		// The capture child keeps stdout free; its parent mirrors stderr
		if cmd == captureCmd {
			log.InitTo(os.Stderr, cfg.LogLevel)
		} else {
			log.Init(cfg.LogLevel)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		stages, err := stageFactory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		ui.New(cmd.Context(), cfg, stages, log.L()).Run()
		return nil
	},
}

// resolveConfig loads the config file, if any, and applies the flags the
// user changed on top of it.
func resolveConfig(o Options, changed func(name string) bool) (config.Config, error) {
	c := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		c = *loaded
	}

	if changed("log-level") {
		c.LogLevel = o.LogLevel
	}
	if changed("decoder") {
		c.Decoder = o.Decoder
	}
	if changed("isolation") {
		c.Isolation = o.Isolation
	}
	if changed("camera") {
		c.Camera = o.Camera
	}
	if changed("queue-size") {
		c.QueueSize = o.QueueSize
	}
	if changed("read-timeout") {
		c.ReadTimeout = o.ReadTimeout
	}

	if err := c.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return c, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootOpts.ConfigPath, "config", "c", "", "Path to a YAML config file")
	pf.StringVar(&rootOpts.LogLevel, "log-level", d.LogLevel, "Log level: debug, info, warn, error")
	pf.StringVar(&rootOpts.Decoder, "decoder", d.Decoder, "Decoding backend: gocv or ffmpeg")
	pf.StringVar(&rootOpts.Isolation, "isolation", d.Isolation, "Capture isolation: process or inline")
	pf.IntVar(&rootOpts.Camera, "camera", d.Camera, "Webcam device index")
	pf.IntVarP(&rootOpts.QueueSize, "queue-size", "q", d.QueueSize, "Maximum number of frames buffered between capture and transform")
	pf.DurationVar(&rootOpts.ReadTimeout, "read-timeout", d.ReadTimeout, "How long the transform stage waits for a frame before finishing")
}
