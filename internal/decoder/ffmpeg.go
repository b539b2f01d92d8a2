// Package decoder implements capture.Decoder on top of the ffmpeg binary and
// pure Go image codecs. The gocv backend lives in decoder/cv.
package decoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os/exec"

	"github.com/disintegration/imaging"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/types"
	"github.com/andresmejia3/imatest/internal/utils"
)

const megabyte = 1024 * 1024

// FFmpeg decodes videos and cameras through an ffmpeg MJPEG pipe and still
// images through imaging.
type FFmpeg struct {
	ctx context.Context
}

// NewFFmpeg returns a decoder whose child processes die with ctx.
func NewFFmpeg(ctx context.Context) *FFmpeg {
	return &FFmpeg{ctx: ctx}
}

func (d *FFmpeg) OpenVideo(path string) (capture.Video, error) {
	return startPipe(utils.NewFFmpegCmd(d.ctx, path))
}

func (d *FFmpeg) OpenCamera(index int) (capture.Video, error) {
	return startPipe(utils.NewFFmpegCameraCmd(d.ctx, index))
}

func (d *FFmpeg) ReadImage(path string) (types.Frame, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return types.Frame{}, err
	}
	return FromImage(img), nil
}

type pipeVideo struct {
	cmd     *exec.Cmd
	out     io.ReadCloser
	scanner *bufio.Scanner
	stderr  bytes.Buffer
}

func startPipe(cmd *exec.Cmd) (*pipeVideo, error) {
	v := &pipeVideo{cmd: cmd}
	cmd.Stderr = &v.stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	v.out = out

	v.scanner = bufio.NewScanner(out)
	v.scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	v.scanner.Split(utils.SplitJpeg)
	return v, nil
}

// Read decodes the next MJPEG frame. A corrupt frame ends the stream.
func (v *pipeVideo) Read() (types.Frame, bool) {
	if !v.scanner.Scan() {
		return types.Frame{}, false
	}
	img, err := jpeg.Decode(bytes.NewReader(v.scanner.Bytes()))
	if err != nil {
		return types.Frame{}, false
	}
	return FromImage(img), true
}

func (v *pipeVideo) Close() error {
	v.out.Close()
	if v.cmd.Process != nil {
		v.cmd.Process.Kill()
	}
	// Killed decoders always report an error; only surface real failures.
	if err := v.cmd.Wait(); err != nil && v.stderr.Len() > 0 {
		return fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(v.stderr.Bytes()))
	}
	return nil
}

// FromImage converts any image to a 3-channel BGR frame.
func FromImage(img image.Image) types.Frame {
	b := img.Bounds()
	f := types.NewFrame(b.Dy(), b.Dx(), 3)

	if src, ok := img.(*image.YCbCr); ok {
		fromYCbCr(src, f)
		return f
	}

	nrgba := imaging.Clone(img)
	for i, o := 0, 0; o < len(f.Data); i, o = i+4, o+3 {
		f.Data[o] = nrgba.Pix[i+2]
		f.Data[o+1] = nrgba.Pix[i+1]
		f.Data[o+2] = nrgba.Pix[i]
	}
	return f
}

// fromYCbCr is the hot path for decoded JPEG frames.
func fromYCbCr(src *image.YCbCr, f types.Frame) {
	b := src.Bounds()
	o := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			yi := src.YOffset(x, y)
			ci := src.COffset(x, y)
			r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
			f.Data[o], f.Data[o+1], f.Data[o+2] = bl, g, r
			o += 3
		}
	}
}
