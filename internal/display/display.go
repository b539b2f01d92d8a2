// Package display turns pipeline frames into GUI-ready images.
package display

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/types"
)

// Default preview size of each image widget.
const (
	PreviewWidth  = 580
	PreviewHeight = 440
)

// ToImage converts a BGR (or gray) frame to an RGB image.
func ToImage(f types.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Cols, f.Rows))
	n := f.Rows * f.Cols
	for i := 0; i < n; i++ {
		o := i * 4
		if f.Channels == 1 {
			v := f.Data[i]
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = v, v, v
		} else {
			s := i * f.Channels
			img.Pix[o] = f.Data[s+2]
			img.Pix[o+1] = f.Data[s+1]
			img.Pix[o+2] = f.Data[s]
		}
		img.Pix[o+3] = 0xFF
	}
	return img
}

// Preview converts f and scales it to fit within w x h, keeping the aspect
// ratio. Frames already inside the box are not upscaled.
func Preview(f types.Frame, w, h int) image.Image {
	img := ToImage(f)
	if f.Cols <= w && f.Rows <= h {
		return img
	}
	return imaging.Fit(img, w, h, imaging.Linear)
}

// Progress maps a frame sequence number onto a 0..99 progress value.
func Progress(seq int) int {
	if seq < 0 {
		return 0
	}
	return seq % 100
}

// ProgressMax is the progress bar range: one step per image when only
// still images are selected, percent otherwise.
func ProgressMax(paths []string) int {
	if capture.AllImages(paths) {
		return len(paths)
	}
	return 100
}
