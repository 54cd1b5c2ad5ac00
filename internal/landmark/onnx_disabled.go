//go:build !onnxruntime

package landmark

import (
	"context"
	"fmt"
	"image"
)

// ONNXConfig locates the 68-point regression model.
type ONNXConfig struct {
	ModelPath   string
	InputSize   int
	LibraryPath string
	InputName   string
	OutputName  string
}

// ONNXShapes is unavailable without the onnxruntime build tag.
type ONNXShapes struct{}

// NewONNXShapes reports that ONNX Runtime support was not compiled in.
func NewONNXShapes(ONNXConfig) (*ONNXShapes, error) {
	return nil, fmt.Errorf("onnx shape predictor: %w (rebuild with -tags onnxruntime)", ErrBackendUnavailable)
}

func (*ONNXShapes) Predict(context.Context, *image.Gray, image.Rectangle) (Set, error) {
	return Set{}, ErrBackendUnavailable
}

func (*ONNXShapes) Close() error { return nil }
