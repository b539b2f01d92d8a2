//go:build !nogocv

package cmd

import (
	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/decoder/cv"
)

func init() {
	newGoCV = func() (capture.Decoder, error) { return cv.New(), nil }
}
