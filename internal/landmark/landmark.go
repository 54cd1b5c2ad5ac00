// Package landmark locates a face in an image and returns its 68 anatomical keypoints.
package landmark

import (
	"context"
	"errors"
	"image"
	"image/draw"
)

// Count is the number of keypoints produced by the 68-point shape model.
const Count = 68

// Index ranges of the 68-point layout, inclusive.
const (
	JawFirst   = 0
	JawLast    = 16
	BrowFirst  = 17
	BrowLast   = 26
	NoseFirst  = 27
	NoseLast   = 35
	EyeFirst   = 36
	EyeLast    = 47
	MouthFirst = 48
	MouthLast  = 67
)

// ErrBackendUnavailable is returned when a backend was not compiled into the binary.
var ErrBackendUnavailable = errors.New("landmark backend not available in this build")

// Point is a keypoint in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Set is a complete landmark set. A face is either fully described or absent (nil *Set).
type Set [Count]Point

// Image is the decoded bitmap handed to a detector. Path points at the normalized copy
// in the request workspace and may be empty.
type Image struct {
	Bitmap image.Image
	Path   string
}

// Detector finds a face and returns its landmarks. A nil set with a nil error means no
// face was found.
type Detector interface {
	Detect(ctx context.Context, img Image) (*Set, error)
}

// Grayscale converts img to a single-channel bitmap anchored at the origin.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
