//go:build !opencv

package landmark

import (
	"context"
	"fmt"
	"image"
)

// OpenCVConfig tunes the Haar cascade detector.
type OpenCVConfig struct {
	CascadePath string
	MinSize     int
}

// OpenCVRegions is unavailable without the opencv build tag.
type OpenCVRegions struct{}

// NewOpenCVRegions reports that OpenCV support was not compiled in.
func NewOpenCVRegions(OpenCVConfig) (*OpenCVRegions, error) {
	return nil, fmt.Errorf("opencv region detector: %w (rebuild with -tags opencv)", ErrBackendUnavailable)
}

func (*OpenCVRegions) Regions(context.Context, *image.Gray) ([]image.Rectangle, error) {
	return nil, ErrBackendUnavailable
}

func (*OpenCVRegions) Close() error { return nil }
