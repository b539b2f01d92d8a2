// Package cv implements capture.Decoder with OpenCV through gocv.
package cv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/types"
)

// Decoder opens files and cameras with cv::VideoCapture and images with
// cv::imread. Frames are copied out of their Mat, so callers own them.
type Decoder struct{}

func New() *Decoder { return &Decoder{} }

func (Decoder) OpenVideo(path string) (capture.Video, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cannot open video %s", path)
	}
	return newVideo(vc), nil
}

func (Decoder) OpenCamera(index int) (capture.Video, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cannot open camera %d", index)
	}
	return newVideo(vc), nil
}

func (Decoder) ReadImage(path string) (types.Frame, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return types.Frame{}, fmt.Errorf("cannot decode image %s", path)
	}
	return FromMat(img)
}

type video struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func newVideo(vc *gocv.VideoCapture) *video {
	return &video{vc: vc, mat: gocv.NewMat()}
}

func (v *video) Read() (types.Frame, bool) {
	if ok := v.vc.Read(&v.mat); !ok || v.mat.Empty() {
		return types.Frame{}, false
	}
	f, err := FromMat(v.mat)
	if err != nil {
		return types.Frame{}, false
	}
	return f, true
}

func (v *video) Close() error {
	v.mat.Close()
	return v.vc.Close()
}

// FromMat copies an 8-bit 1- or 3-channel Mat into a frame.
func FromMat(m gocv.Mat) (types.Frame, error) {
	switch m.Type() {
	case gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC1:
	default:
		return types.Frame{}, fmt.Errorf("unsupported mat type %v", m.Type())
	}

	data, err := m.DataPtrUint8()
	if err != nil {
		return types.Frame{}, err
	}
	f := types.NewFrame(m.Rows(), m.Cols(), m.Channels())
	copy(f.Data, data)
	return f, nil
}
