//go:build dlib

package landmark

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/Kagami/go-face"
	"github.com/disintegration/imaging"
)

// DlibConfig locates the go-face model directory.
type DlibConfig struct {
	ModelsDir string
}

// DlibRegions finds faces with dlib's HOG frontal face detector through go-face.
type DlibRegions struct {
	rec *face.Recognizer
}

// NewDlibRegions loads the dlib models from cfg.ModelsDir.
func NewDlibRegions(cfg DlibConfig) (*DlibRegions, error) {
	rec, err := face.NewRecognizer(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("load dlib models from %s: %w", cfg.ModelsDir, err)
	}
	return &DlibRegions{rec: rec}, nil
}

// Regions returns face rectangles in the order dlib reports them. go-face only reads JPEG,
// so the grayscale bitmap is encoded at full quality first.
func (d *DlibRegions) Regions(_ context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.JPEG, imaging.JPEGQuality(100)); err != nil {
		return nil, fmt.Errorf("encode for dlib: %w", err)
	}
	faces, err := d.rec.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("dlib detect: %w", err)
	}

	b := gray.Bounds()
	regions := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		if rect := f.Rectangle.Intersect(b); !rect.Empty() {
			regions = append(regions, rect)
		}
	}
	return regions, nil
}

// Close releases the native recognizer.
func (d *DlibRegions) Close() error {
	d.rec.Close()
	return nil
}
