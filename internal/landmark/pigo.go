package landmark

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
)

// PigoConfig tunes the pure Go cascade detector.
type PigoConfig struct {
	CascadePath string
	MinSize     int
	MinQuality  float32
}

// PigoRegions finds faces with a pixel intensity comparison cascade. The unpacked
// cascade is immutable and shared by all requests.
type PigoRegions struct {
	classifier *pigo.Pigo
	minSize    int
	minQuality float32
}

// NewPigoRegions reads and unpacks the binary cascade file.
func NewPigoRegions(cfg PigoConfig) (*PigoRegions, error) {
	data, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("read cascade %s: %w", cfg.CascadePath, err)
	}
	classifier, err := unpackCascade(data)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade %s: %w", cfg.CascadePath, err)
	}
	minSize := cfg.MinSize
	if minSize <= 0 {
		minSize = 20
	}
	return &PigoRegions{classifier: classifier, minSize: minSize, minQuality: cfg.MinQuality}, nil
}

// unpackCascade turns the panics Unpack raises on truncated input into errors.
func unpackCascade(data []byte) (classifier *pigo.Pigo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed cascade: %v", r)
		}
	}()
	return pigo.NewPigo().Unpack(data)
}

// Regions keeps clustered detections above the quality floor in cascade order.
func (p *PigoRegions) Regions(_ context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	b := gray.Bounds()
	cols, rows := b.Dx(), b.Dy()
	maxSize := cols
	if rows > maxSize {
		maxSize = rows
	}

	params := pigo.CascadeParams{
		MinSize:     p.minSize,
		MaxSize:     maxSize,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: gray.Pix,
			Rows:   rows,
			Cols:   cols,
			Dim:    gray.Stride,
		},
	}

	dets := p.classifier.RunCascade(params, 0.0)
	dets = p.classifier.ClusterDetections(dets, 0.2)

	regions := make([]image.Rectangle, 0, len(dets))
	for _, det := range dets {
		if det.Q < p.minQuality {
			continue
		}
		half := det.Scale / 2
		rect := image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half).Intersect(b)
		if rect.Empty() {
			continue
		}
		regions = append(regions, rect)
	}
	return regions, nil
}
