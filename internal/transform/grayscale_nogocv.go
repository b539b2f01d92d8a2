//go:build nogocv

package transform

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/andresmejia3/imatest/internal/types"
)

// Grayscale is the pipeline transform: luma via imaging, replicated into
// three BGR channels so both previews share one pixel layout.
func Grayscale(f types.Frame) types.Frame {
	gray := imaging.Grayscale(toImage(f))
	out := types.NewFrame(f.Rows, f.Cols, 3)
	for i := 0; i < f.Rows*f.Cols; i++ {
		v := gray.Pix[4*i]
		out.Data[3*i], out.Data[3*i+1], out.Data[3*i+2] = v, v, v
	}
	return out
}

func toImage(f types.Frame) image.Image {
	if f.Channels == 1 {
		return &image.Gray{Pix: f.Data, Stride: f.Cols, Rect: image.Rect(0, 0, f.Cols, f.Rows)}
	}
	img := image.NewNRGBA(image.Rect(0, 0, f.Cols, f.Rows))
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = f.Data[i+2], f.Data[i+1], f.Data[i], 0xFF
	}
	return img
}
