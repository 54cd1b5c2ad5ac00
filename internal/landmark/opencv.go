//go:build opencv

package landmark

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// OpenCVConfig tunes the Haar cascade detector.
type OpenCVConfig struct {
	CascadePath string
	MinSize     int
}

// OpenCVRegions finds faces with an OpenCV Haar cascade.
type OpenCVRegions struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	minSize    int
}

// NewOpenCVRegions loads the cascade XML.
func NewOpenCVRegions(cfg OpenCVConfig) (*OpenCVRegions, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("load haar cascade %s", cfg.CascadePath)
	}
	return &OpenCVRegions{classifier: classifier, minSize: cfg.MinSize}, nil
}

// Regions returns rectangles in the order DetectMultiScale reports them.
func (o *OpenCVRegions) Regions(_ context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("convert to mat: %w", err)
	}
	defer mat.Close()

	// detectMultiScale keeps scratch buffers on the classifier.
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.classifier.DetectMultiScaleWithParams(mat, 1.1, 3, 0,
		image.Pt(o.minSize, o.minSize), image.Pt(0, 0)), nil
}

// Close releases the native classifier.
func (o *OpenCVRegions) Close() error {
	return o.classifier.Close()
}
