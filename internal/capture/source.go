package capture

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/imatest/internal/types"
)

// Kind is the input category derived from a file extension.
type Kind int

const (
	KindUnsupported Kind = iota
	KindVideo
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindImage:
		return "image"
	default:
		return "unsupported"
	}
}

var (
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true}
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tif": true, ".tiff": true}
)

// Classify maps a path to its input kind by extension, case-insensitively.
func Classify(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtensions[ext]:
		return KindVideo
	case imageExtensions[ext]:
		return KindImage
	default:
		return KindUnsupported
	}
}

// Extensions returns every supported extension, sorted, with the dot.
func Extensions() []string {
	exts := make([]string, 0, len(videoExtensions)+len(imageExtensions))
	for ext := range videoExtensions {
		exts = append(exts, ext)
	}
	for ext := range imageExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// AllImages reports whether every path is a still image.
func AllImages(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if Classify(p) != KindImage {
			return false
		}
	}
	return true
}

// Video is an open frame stream.
// Read returns false at end of stream or on a decode failure.
type Video interface {
	Read() (types.Frame, bool)
	Close() error
}

// Decoder opens sources through a video/image decoding library.
type Decoder interface {
	OpenVideo(path string) (Video, error)
	OpenCamera(index int) (Video, error)
	ReadImage(path string) (types.Frame, error)
}
