package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/log"
	"github.com/andresmejia3/imatest/internal/pipeline"
	"github.com/andresmejia3/imatest/internal/types"
	"github.com/andresmejia3/imatest/internal/utils"
)

var runWebcam bool

var runCmd = &cobra.Command{
	Use:   "run [paths...]",
	Short: "Run the pipeline without a window",
	Long: `Run reads the given videos and images (or the webcam) through the
capture and grayscale stages and reports progress in the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sel := types.Selection{Webcam: runWebcam, Camera: cfg.Camera, Paths: args}
		if err := validateSelection(sel); err != nil {
			return err
		}
		return runHeadless(cmd.Context(), sel)
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runWebcam, "webcam", "w", false, "Read from the webcam instead of files")
	rootCmd.AddCommand(runCmd)
}

// validateSelection rejects inputs that cannot produce a single frame.
func validateSelection(sel types.Selection) error {
	if sel.Webcam {
		if len(sel.Paths) > 0 {
			return errors.New("--webcam cannot be combined with input paths")
		}
		return nil
	}
	if len(sel.Paths) == 0 {
		return pipeline.ErrNoInput
	}
	for _, p := range sel.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("input %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("input %s is a directory", p)
		}
		if capture.Classify(p) == capture.KindUnsupported {
			fmt.Fprintf(os.Stderr, "⚠️  %s has an unsupported extension and will be skipped\n", p)
		}
	}
	return nil
}

// estimateFrames returns the expected number of frames, or -1 when unknown
// (webcam or an ffprobe failure), which turns the bar into a spinner.
func estimateFrames(ctx context.Context, sel types.Selection) int {
	if sel.Webcam {
		return -1
	}
	total := 0
	for _, p := range sel.Paths {
		switch capture.Classify(p) {
		case capture.KindImage:
			total++
		case capture.KindVideo:
			n := utils.GetTotalFrames(ctx, p)
			if n <= 0 {
				return -1
			}
			total += n
		}
	}
	if total == 0 {
		return -1
	}
	return total
}

type barSink struct {
	bar *progressbar.ProgressBar
}

func (s *barSink) FrameReady(seq int, original, processed types.Frame) {
	s.bar.Add(1)
}

func runHeadless(ctx context.Context, sel types.Selection) error {
	stages, err := stageFactory(ctx, cfg)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(estimateFrames(ctx, sel),
		progressbar.OptionSetDescription("🎞️  imatest"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
	)

	stopped := make(chan pipeline.Report, 1)
	coord := pipeline.New(cfg, pipeline.Options{
		Stages:    stages,
		Sink:      &barSink{bar: bar},
		OnStopped: func(rep pipeline.Report) { stopped <- rep },
		Logger:    log.L(),
	})

	// The run is torn down through Stop, not by cancelling its context
	if err := coord.Start(context.WithoutCancel(ctx), sel); err != nil {
		return err
	}

	var rep pipeline.Report
	select {
	case rep = <-stopped:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\n🛑 Interrupted, stopping pipeline...")
		if err := coord.Stop(); err != nil && !errors.Is(err, pipeline.ErrInvalidState) {
			return err
		}
		rep = <-stopped
	}
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n✅ Run %s finished: %d frames processed", rep.RunID[:8], rep.Frames)
	if rep.Killed {
		fmt.Fprint(os.Stderr, " (capture stage was terminated)")
	}
	fmt.Fprintln(os.Stderr)
	return rep.Err
}
