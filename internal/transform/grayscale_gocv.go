//go:build !nogocv

package transform

import (
	"gocv.io/x/gocv"

	"github.com/andresmejia3/imatest/internal/types"
)

// Grayscale is the pipeline transform: BGR to luma with cv::cvtColor, then
// back to three channels so both previews share one pixel layout.
// Single-channel input is only expanded.
func Grayscale(f types.Frame) types.Frame {
	mt := gocv.MatTypeCV8UC3
	if f.Channels == 1 {
		mt = gocv.MatTypeCV8UC1
	}
	src, err := gocv.NewMatFromBytes(f.Rows, f.Cols, mt, f.Data)
	if err != nil {
		// Only malformed frames get here; decoders validate geometry
		return types.NewFrame(f.Rows, f.Cols, 3)
	}
	defer src.Close()

	gray := src
	if f.Channels != 1 {
		gray = gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}

	out := gocv.NewMat()
	defer out.Close()
	gocv.CvtColor(gray, &out, gocv.ColorGrayToBGR)
	return types.Frame{Rows: f.Rows, Cols: f.Cols, Channels: 3, Data: out.ToBytes()}
}
