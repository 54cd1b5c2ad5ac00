package landmark

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"
)

// RegionDetector returns candidate face rectangles in detector order.
type RegionDetector interface {
	Regions(ctx context.Context, gray *image.Gray) ([]image.Rectangle, error)
}

// ShapePredictor fits the 68-point shape model inside a face rectangle.
type ShapePredictor interface {
	Predict(ctx context.Context, gray *image.Gray, region image.Rectangle) (Set, error)
}

// Local runs region detection and shape prediction in process.
type Local struct {
	regions RegionDetector
	shapes  ShapePredictor
	logger  *zap.Logger
}

// NewLocal composes a region detector with a shape predictor.
func NewLocal(regions RegionDetector, shapes ShapePredictor, logger *zap.Logger) *Local {
	return &Local{regions: regions, shapes: shapes, logger: logger.Named("landmark_local")}
}

// Detect uses the first region the detector reports. Regions are not ranked by size or
// score, so on multi-face images the detector's own ordering decides which face is used.
func (l *Local) Detect(ctx context.Context, img Image) (*Set, error) {
	if img.Bitmap == nil {
		return nil, fmt.Errorf("detect landmarks: nil bitmap")
	}
	gray := Grayscale(img.Bitmap)

	regions, err := l.regions.Regions(ctx, gray)
	if err != nil {
		return nil, fmt.Errorf("detect face regions: %w", err)
	}
	if len(regions) == 0 {
		return nil, nil
	}
	if len(regions) > 1 {
		l.logger.Debug("multiple faces detected, using first", zap.Int("faces", len(regions)))
	}

	set, err := l.shapes.Predict(ctx, gray, regions[0])
	if err != nil {
		return nil, fmt.Errorf("predict face shape: %w", err)
	}
	return &set, nil
}
