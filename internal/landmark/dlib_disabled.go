//go:build !dlib

package landmark

import (
	"context"
	"fmt"
	"image"
)

// DlibConfig locates the go-face model directory.
type DlibConfig struct {
	ModelsDir string
}

// DlibRegions is unavailable without the dlib build tag.
type DlibRegions struct{}

// NewDlibRegions reports that dlib support was not compiled in.
func NewDlibRegions(DlibConfig) (*DlibRegions, error) {
	return nil, fmt.Errorf("dlib region detector: %w (rebuild with -tags dlib)", ErrBackendUnavailable)
}

func (*DlibRegions) Regions(context.Context, *image.Gray) ([]image.Rectangle, error) {
	return nil, ErrBackendUnavailable
}

func (*DlibRegions) Close() error { return nil }
