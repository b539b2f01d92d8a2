package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/imatest/internal/config"
	"github.com/andresmejia3/imatest/internal/log"
	"github.com/andresmejia3/imatest/internal/types"
	"github.com/andresmejia3/imatest/internal/worker"
)

// dataFD is the side channel the parent passes via ExtraFiles.
const dataFD = 3

type captureOptions struct {
	RunID         string
	Webcam        bool
	ImageInterval time.Duration
	RetryInterval time.Duration
}

var captureOpts captureOptions

var captureCmd = &cobra.Command{
	Use:    "capture [paths...]",
	Short:  "Capture process spawned by the pipeline (internal)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd, args, captureOpts)
	},
}

func init() {
	d := config.Default()
	captureCmd.Flags().StringVar(&captureOpts.RunID, "run-id", "", "Run id of the parent pipeline")
	captureCmd.Flags().BoolVar(&captureOpts.Webcam, "webcam", false, "Read from the webcam instead of files")
	captureCmd.Flags().DurationVar(&captureOpts.ImageInterval, "image-interval", d.ImageInterval, "How long each still image is shown")
	captureCmd.Flags().DurationVar(&captureOpts.RetryInterval, "retry-interval", d.RetryInterval, "Full-queue retry interval")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string, o captureOptions) error {
	data := os.NewFile(dataFD, "imatest-data")
	if data == nil {
		return fmt.Errorf("data pipe (fd %d) is missing; capture must be started by imatest", dataFD)
	}
	defer data.Close()

	// The parent owns this process's lifetime through stdin; a terminal
	// Ctrl+C reaching the whole process group must not cut the stream short.
	ctx := context.WithoutCancel(cmd.Context())

	dec, err := newDecoder(ctx, cfg.Decoder)
	if err != nil {
		return err
	}

	logger := log.With("run", o.RunID, "stage", "capture", "pid", os.Getpid())
	_, err = worker.Serve(ctx, worker.ServeOptions{
		Decoder: dec,
		Selection: types.Selection{
			Webcam: o.Webcam,
			Camera: cfg.Camera,
			Paths:  args,
		},
		Control:       os.Stdin,
		Data:          data,
		QueueSize:     cfg.QueueSize,
		ImageInterval: o.ImageInterval,
		RetryInterval: o.RetryInterval,
		Logger:        logger,
	})
	return err
}
