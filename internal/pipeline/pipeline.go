// Package pipeline runs one photograph through decoding, landmark detection, feature
// synthesis and classification.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceshape/internal/features"
	"github.com/example/faceshape/internal/imageio"
	"github.com/example/faceshape/internal/landmark"
	"github.com/example/faceshape/internal/logging"
	"github.com/example/faceshape/internal/model"
	"github.com/example/faceshape/internal/workspace"
)

const (
	operationRun   = "pipeline.run"
	normalizedName = "normalized"
	// DefaultWorkspaceRoot is where request scratch directories are created.
	DefaultWorkspaceRoot = "uploads/predict"
)

// Upload is a submitted photograph.
type Upload struct {
	Filename string
	Data     []byte
}

// Result is the prediction returned to callers. Confidence is nil when the classifier does
// not estimate probabilities.
type Result struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// Extractor turns landmarks into the feature vector the classifier was fitted on.
type Extractor func(set landmark.Set) (features.Vector, error)

// Extraction is the outcome of the stages before classification.
type Extraction struct {
	Landmarks landmark.Set
	Features  features.Vector
}

// Pipeline holds the frozen artifacts. It is safe for concurrent use as long as the
// detector is.
type Pipeline struct {
	detector   landmark.Detector
	scaler     *model.Scaler
	classifier model.Classifier
	decoder    *imageio.Decoder
	extract    Extractor
	root       string
	logger     *zap.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithWorkspaceRoot sets the directory under which request workspaces are created.
func WithWorkspaceRoot(root string) Option {
	return func(p *Pipeline) { p.root = root }
}

// WithExtractor replaces features.Synthesize.
func WithExtractor(fn Extractor) Option {
	return func(p *Pipeline) { p.extract = fn }
}

// WithDecoder replaces the default image decoder.
func WithDecoder(d *imageio.Decoder) Option {
	return func(p *Pipeline) { p.decoder = d }
}

// New assembles a pipeline from loaded artifacts.
func New(detector landmark.Detector, scaler *model.Scaler, classifier model.Classifier, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		detector:   detector,
		scaler:     scaler,
		classifier: classifier,
		decoder:    imageio.NewDecoder(),
		extract:    features.Synthesize,
		root:       DefaultWorkspaceRoot,
		logger:     logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run predicts the face shape of upload. Every error is a *Error.
func (p *Pipeline) Run(ctx context.Context, requestID string, upload *Upload) (*Result, error) {
	log := logging.WithOperation(p.logger, operationRun, requestID)

	ex, err := p.extractWith(ctx, log, upload)
	if err != nil {
		return nil, err
	}

	log.Debug("pipeline state", zap.Stringer("state", Classifying))
	scaled := p.scaler.Transform(ex.Features)
	result := &Result{
		Label:      p.classifier.Predict(scaled),
		Confidence: model.Confidence(p.classifier, scaled),
	}

	log.Debug("pipeline state", zap.Stringer("state", Done), zap.String("label", result.Label))
	return result, nil
}

// Extract runs the stages up to feature synthesis and returns the landmarks and features.
func (p *Pipeline) Extract(ctx context.Context, requestID string, upload *Upload) (*Extraction, error) {
	return p.extractWith(ctx, logging.WithOperation(p.logger, operationRun, requestID), upload)
}

func (p *Pipeline) extractWith(ctx context.Context, log *zap.Logger, upload *Upload) (*Extraction, error) {
	log.Debug("pipeline state", zap.Stringer("state", AwaitingImage))
	if upload == nil || len(upload.Data) == 0 {
		return nil, newError(KindMissingImage, AwaitingImage, errors.New("empty upload"))
	}

	log.Debug("pipeline state", zap.Stringer("state", Decoding), zap.Int("bytes", len(upload.Data)))
	scope, err := workspace.Acquire(p.root)
	if err != nil {
		return nil, newError(KindInternal, Decoding, err)
	}
	defer func() {
		if err := scope.Release(); err != nil {
			log.Error("failed to release request workspace", zap.Error(err))
		}
	}()

	decoded, err := p.decoder.Decode(upload.Filename, upload.Data)
	if err != nil {
		return nil, newError(KindUnreadableImage, Decoding, err)
	}
	path := scope.Path(imageio.Filename(normalizedName, decoded.Format))
	if err := imageio.Save(path, decoded.Image, decoded.Format); err != nil {
		return nil, newError(KindUnreadableImage, Decoding, fmt.Errorf("save normalized image: %w", err))
	}

	// Detection sees the re-encoded copy, not the upload.
	normalized, err := imageio.Open(path)
	if err != nil {
		return nil, newError(KindUnreadableImage, Decoding, fmt.Errorf("read normalized image: %w", err))
	}

	log.Debug("pipeline state", zap.Stringer("state", Detecting), zap.String("format", decoded.Format))
	set, err := p.detector.Detect(ctx, landmark.Image{Bitmap: normalized, Path: path})
	if err != nil {
		return nil, newError(KindDetectionFailed, Detecting, err)
	}
	if set == nil {
		return nil, newError(KindNoFaceDetected, Detecting, nil)
	}

	log.Debug("pipeline state", zap.Stringer("state", Extracting))
	vector, err := p.extract(*set)
	if err != nil {
		return nil, newError(KindFeatureExtractionFailed, Extracting, err)
	}
	return &Extraction{Landmarks: *set, Features: vector}, nil
}
