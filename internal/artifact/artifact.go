// Package artifact loads the frozen scaler, classifier and landmark detector once at
// process start.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/faceshape/internal/config"
	"github.com/example/faceshape/internal/grpcclient"
	"github.com/example/faceshape/internal/landmark"
	"github.com/example/faceshape/internal/model"
	"github.com/example/faceshape/internal/pipeline"
)

// Loader provides the frozen artifacts the pipeline needs. Every error wraps
// pipeline.ErrArtifactLoadFailure.
type Loader interface {
	LoadScaler() (*model.Scaler, error)
	LoadClassifier() (model.Classifier, error)
	LoadLandmarkDetector(ctx context.Context) (landmark.Detector, error)
}

// Files loads artifacts from the paths in config.Artifacts.
type Files struct {
	cfg         config.Artifacts
	logger      *zap.Logger
	dialOptions []grpc.DialOption

	bundleOnce sync.Once
	bundle     *model.Bundle
	bundleErr  error

	mu      sync.Mutex
	closers []io.Closer
}

// Option customises Files.
type Option func(*Files)

// WithDialOptions adds options used when dialing the remote landmark service.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(f *Files) { f.dialOptions = append(f.dialOptions, opts...) }
}

func NewFiles(cfg config.Artifacts, logger *zap.Logger, opts ...Option) *Files {
	f := &Files{cfg: cfg, logger: logger.Named("artifact")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func loadFailure(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", pipeline.ErrArtifactLoadFailure, what, err)
}

func (f *Files) loadBundle() (*model.Bundle, error) {
	f.bundleOnce.Do(func() {
		f.bundle, f.bundleErr = model.LoadBundle(f.cfg.ModelBundlePath)
		if f.bundleErr != nil {
			f.bundleErr = loadFailure("model bundle", f.bundleErr)
			return
		}
		f.logger.Info("model bundle loaded",
			zap.String("path", f.cfg.ModelBundlePath),
			zap.String("version", f.bundle.Version),
			zap.Strings("classes", f.bundle.Classifier.Classes()),
		)
	})
	return f.bundle, f.bundleErr
}

func (f *Files) LoadScaler() (*model.Scaler, error) {
	b, err := f.loadBundle()
	if err != nil {
		return nil, err
	}
	return b.Scaler, nil
}

func (f *Files) LoadClassifier() (model.Classifier, error) {
	b, err := f.loadBundle()
	if err != nil {
		return nil, err
	}
	return b.Classifier, nil
}

// LoadLandmarkDetector builds the configured backend. Resources it opens are released by
// Close.
func (f *Files) LoadLandmarkDetector(ctx context.Context) (landmark.Detector, error) {
	if f.cfg.LandmarkBackend == config.LandmarkBackendRemote {
		client, conn, err := grpcclient.DialLandmarkService(ctx, f.cfg.LandmarkAddr, f.logger, f.dialOptions...)
		if err != nil {
			return nil, loadFailure("landmark service "+f.cfg.LandmarkAddr, err)
		}
		f.track(conn)
		f.logger.Info("using remote landmark service", zap.String("addr", f.cfg.LandmarkAddr))
		return client, nil
	}

	regions, err := f.regionDetector()
	if err != nil {
		return nil, loadFailure("region detector", err)
	}

	shapes, err := landmark.NewONNXShapes(landmark.ONNXConfig{
		ModelPath:   f.cfg.ShapePredictorPath,
		InputSize:   f.cfg.ShapePredictorInput,
		LibraryPath: f.cfg.ONNXRuntimeLib,
	})
	if err != nil {
		return nil, loadFailure("shape predictor", err)
	}
	f.track(shapes)

	f.logger.Info("using local landmark detector",
		zap.String("region_detector", f.cfg.RegionDetector),
		zap.String("shape_predictor", f.cfg.ShapePredictorPath),
	)
	return landmark.NewLocal(regions, shapes, f.logger), nil
}

func (f *Files) regionDetector() (landmark.RegionDetector, error) {
	switch f.cfg.RegionDetector {
	case config.RegionDetectorDlib:
		r, err := landmark.NewDlibRegions(landmark.DlibConfig{ModelsDir: f.cfg.DlibModelsDir})
		if err != nil {
			return nil, err
		}
		f.track(r)
		return r, nil
	case config.RegionDetectorOpenCV:
		r, err := landmark.NewOpenCVRegions(landmark.OpenCVConfig{
			CascadePath: f.cfg.RegionCascadePath,
			MinSize:     f.cfg.RegionMinSize,
		})
		if err != nil {
			return nil, err
		}
		f.track(r)
		return r, nil
	}
	r, err := landmark.NewPigoRegions(landmark.PigoConfig{
		CascadePath: f.cfg.RegionCascadePath,
		MinSize:     f.cfg.RegionMinSize,
		MinQuality:  float32(f.cfg.RegionMinQuality),
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (f *Files) track(c io.Closer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closers = append(f.closers, c)
}

// Close releases detector resources in reverse order of acquisition.
func (f *Files) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}

// Set is a fully loaded group of artifacts.
type Set struct {
	Scaler     *model.Scaler
	Classifier model.Classifier
	Detector   landmark.Detector
}

// Load asks l for every artifact, stopping at the first failure.
func Load(ctx context.Context, l Loader) (*Set, error) {
	scaler, err := l.LoadScaler()
	if err != nil {
		return nil, err
	}
	classifier, err := l.LoadClassifier()
	if err != nil {
		return nil, err
	}
	detector, err := l.LoadLandmarkDetector(ctx)
	if err != nil {
		return nil, err
	}
	return &Set{Scaler: scaler, Classifier: classifier, Detector: detector}, nil
}
