//go:build nogocv

package cmd

import (
	"errors"

	"github.com/andresmejia3/imatest/internal/capture"
)

func init() {
	newGoCV = func() (capture.Decoder, error) {
		return nil, errors.New("built without OpenCV support (nogocv tag); use --decoder ffmpeg")
	}
}
