package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/config"
	"github.com/andresmejia3/imatest/internal/decoder"
	"github.com/andresmejia3/imatest/internal/log"
	"github.com/andresmejia3/imatest/internal/pipeline"
	"github.com/andresmejia3/imatest/internal/worker"
)

// newGoCV is provided by decoders_gocv.go, or stubbed out when built with
// the nogocv tag.
var newGoCV func() (capture.Decoder, error)

func newDecoder(ctx context.Context, name string) (capture.Decoder, error) {
	switch name {
	case config.DecoderGoCV:
		return newGoCV()
	case config.DecoderFFmpeg:
		return decoder.NewFFmpeg(ctx), nil
	default:
		return nil, fmt.Errorf("unknown decoder %q", name)
	}
}

// stageFactory picks the capture stage implementation for c.Isolation.
func stageFactory(ctx context.Context, c config.Config) (pipeline.StageFactory, error) {
	switch c.Isolation {
	case config.IsolationInline:
		dec, err := newDecoder(ctx, c.Decoder)
		if err != nil {
			return nil, err
		}
		return func(b capture.Binding) pipeline.Stage {
			return capture.NewLocalStage(dec, b)
		}, nil

	case config.IsolationProcess:
		args := childArgs(c)
		return func(b capture.Binding) pipeline.Stage {
			return worker.NewCaptureProcess(b, args, log.Writer())
		}, nil

	default:
		return nil, fmt.Errorf("unknown isolation mode %q", c.Isolation)
	}
}

// childArgs forwards the settings the capture child needs. Selection and
// timing flags are appended per run by the worker.
func childArgs(c config.Config) []string {
	return []string{
		captureCmd.Name(),
		"--decoder", c.Decoder,
		"--log-level", c.LogLevel,
		"--queue-size", strconv.Itoa(c.QueueSize),
	}
}
