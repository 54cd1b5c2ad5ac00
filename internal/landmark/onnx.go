//go:build onnxruntime

package landmark

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit sync.Once
var ortInitErr error

// ONNXConfig locates the 68-point regression model.
type ONNXConfig struct {
	ModelPath   string
	InputSize   int
	LibraryPath string
	InputName   string
	OutputName  string
}

// ONNXShapes predicts 68 points with an ONNX model taking a 1x1xNxN grayscale crop and
// returning 1x136 crop-relative coordinates.
type ONNXShapes struct {
	session   *ort.DynamicAdvancedSession
	inputSize int
}

// NewONNXShapes initializes the runtime once per process and opens the model.
func NewONNXShapes(cfg ONNXConfig) (*ONNXShapes, error) {
	ortInit.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", ortInitErr)
	}

	inputName, outputName := cfg.InputName, cfg.OutputName
	if inputName == "" {
		inputName = "input"
	}
	if outputName == "" {
		outputName = "landmarks"
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputName}, []string{outputName}, options)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", cfg.ModelPath, err)
	}
	return &ONNXShapes{session: session, inputSize: cfg.InputSize}, nil
}

// Predict runs the model on the region crop.
func (o *ONNXShapes) Predict(_ context.Context, gray *image.Gray, region image.Rectangle) (Set, error) {
	plane, err := cropInput(gray, region, o.inputSize)
	if err != nil {
		return Set{}, err
	}
	size := int64(o.inputSize)
	input, err := ort.NewTensor(ort.NewShape(1, 1, size, size), plane)
	if err != nil {
		return Set{}, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2*Count))
	if err != nil {
		return Set{}, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := o.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return Set{}, fmt.Errorf("shape inference failed: %w", err)
	}
	return setFromNormalized(output.GetData(), region)
}

// Close releases the session.
func (o *ONNXShapes) Close() error {
	return o.session.Destroy()
}
