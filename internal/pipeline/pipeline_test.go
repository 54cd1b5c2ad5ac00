package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/faceshape/internal/features"
	"github.com/example/faceshape/internal/landmark"
	"github.com/example/faceshape/internal/landmark/landmarktest"
	"github.com/example/faceshape/internal/model"
)

func photo(t testing.TB, uniform bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
			if !uniform {
				c = color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 60, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func loadBundle(t testing.TB) *model.Bundle {
	t.Helper()
	b, err := model.LoadBundle(filepath.Join("testdata", "model.json"))
	require.NoError(t, err)
	return b
}

func newTestPipeline(t testing.TB, detector landmark.Detector, root string, opts ...Option) *Pipeline {
	b := loadBundle(t)
	return New(detector, b.Scaler, b.Classifier, zap.NewNop(), append([]Option{WithWorkspaceRoot(root)}, opts...)...)
}

type countingExtractor struct {
	calls atomic.Int32
}

func (c *countingExtractor) extract(set landmark.Set) (features.Vector, error) {
	c.calls.Add(1)
	return features.Synthesize(set)
}

func assertNoWorkspaces(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "request workspaces left behind")
}

func requireKind(t *testing.T, err error, kind Kind, state State) *Error {
	t.Helper()
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr), "want *pipeline.Error, got %T", err)
	assert.Equal(t, kind, perr.Kind)
	assert.Equal(t, state, perr.State)
	return perr
}

func TestRunPredictsFromFrozenBundle(t *testing.T) {
	face := landmarktest.Face()
	detector := &landmarktest.Detector{Set: &face}
	root := t.TempDir()
	p := newTestPipeline(t, detector, root)

	result, err := p.Run(context.Background(), "req-1", &Upload{Filename: "portrait.png", Data: photo(t, false)})
	require.NoError(t, err)

	assert.Equal(t, "oval", result.Label)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.8, *result.Confidence)

	require.Len(t, detector.Paths(), 1)
	normalized := detector.Paths()[0]
	assert.Equal(t, ".png", filepath.Ext(normalized))
	assert.Equal(t, root, filepath.Dir(filepath.Dir(normalized)))
	assert.NoFileExists(t, normalized)
	assertNoWorkspaces(t, root)
}

func TestRunDetectsOnNormalizedCopy(t *testing.T) {
	face := landmarktest.Face()
	detector := &landmarktest.Detector{Set: &face}
	p := newTestPipeline(t, detector, t.TempDir())

	// PNG bytes under a .jpg name are re-encoded as JPEG before detection.
	_, err := p.Run(context.Background(), "req-jpeg", &Upload{Filename: "portrait.JPG", Data: photo(t, false)})
	require.NoError(t, err)

	require.Len(t, detector.Bitmaps(), 1)
	assert.IsType(t, &image.YCbCr{}, detector.Bitmaps()[0])
	assert.Equal(t, image.Rect(0, 0, 64, 64), detector.Bitmaps()[0].Bounds())
	assert.Equal(t, ".jpg", filepath.Ext(detector.Paths()[0]))
}

func TestRunIsTranslationInvariant(t *testing.T) {
	shifted := landmarktest.Shifted(300, -20)
	p := newTestPipeline(t, &landmarktest.Detector{Set: &shifted}, t.TempDir())

	result, err := p.Run(context.Background(), "req-2", &Upload{Filename: "portrait.jpg", Data: photo(t, false)})
	require.NoError(t, err)
	assert.Equal(t, "oval", result.Label)
	assert.Equal(t, 0.8, *result.Confidence)
}

func TestRunMissingImage(t *testing.T) {
	detector := &landmarktest.Detector{}
	root := t.TempDir()
	p := newTestPipeline(t, detector, root)

	for name, upload := range map[string]*Upload{
		"nil":   nil,
		"empty": {Filename: "face.jpg"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Run(context.Background(), "req", upload)
			perr := requireKind(t, err, KindMissingImage, AwaitingImage)
			assert.ErrorIs(t, err, ErrMissingImage)
			assert.Equal(t, FaultClient, perr.Kind.Fault())
		})
	}
	assert.Zero(t, detector.Calls())
	assertNoWorkspaces(t, root)
}

func TestRunGarbageBytesAreUnreadable(t *testing.T) {
	detector := &landmarktest.Detector{}
	root := t.TempDir()
	p := newTestPipeline(t, detector, root)

	_, err := p.Run(context.Background(), "req", &Upload{Filename: "face.jpg", Data: []byte("GIF89a but not really")})
	requireKind(t, err, KindUnreadableImage, Decoding)
	assert.ErrorIs(t, err, ErrUnreadableImage)
	assert.Zero(t, detector.Calls())
	assertNoWorkspaces(t, root)
}

func TestRunWithoutFaceSkipsExtraction(t *testing.T) {
	extractor := &countingExtractor{}
	detector := &landmarktest.Detector{}
	root := t.TempDir()
	p := newTestPipeline(t, detector, root, WithExtractor(extractor.extract))

	_, err := p.Run(context.Background(), "req", &Upload{Filename: "wall.png", Data: photo(t, true)})
	perr := requireKind(t, err, KindNoFaceDetected, Detecting)
	assert.ErrorIs(t, err, ErrNoFaceDetected)
	assert.Equal(t, "no face was detected in the image", perr.Message())
	assert.Equal(t, 1, detector.Calls())
	assert.Zero(t, extractor.calls.Load())
	assertNoWorkspaces(t, root)
}

func TestRunDetectorFailureIsServerFault(t *testing.T) {
	cause := fmt.Errorf("dial landmark sidecar: %w", landmark.ErrBackendUnavailable)
	p := newTestPipeline(t, &landmarktest.Detector{Err: cause}, t.TempDir())

	_, err := p.Run(context.Background(), "req", &Upload{Filename: "face.png", Data: photo(t, false)})
	perr := requireKind(t, err, KindDetectionFailed, Detecting)
	assert.Equal(t, FaultServer, perr.Kind.Fault())
	assert.ErrorIs(t, err, ErrDetectionFailed)
	assert.ErrorIs(t, err, landmark.ErrBackendUnavailable)
}

func TestRunDegenerateLandmarks(t *testing.T) {
	var collapsed landmark.Set
	p := newTestPipeline(t, &landmarktest.Detector{Set: &collapsed}, t.TempDir())

	_, err := p.Run(context.Background(), "req", &Upload{Filename: "face.png", Data: photo(t, false)})
	requireKind(t, err, KindFeatureExtractionFailed, Extracting)
	assert.ErrorIs(t, err, features.ErrDegenerateGeometry)
}

type regionList struct {
	rects []image.Rectangle
}

func (r regionList) Regions(context.Context, *image.Gray) ([]image.Rectangle, error) {
	return r.rects, nil
}

// faceAt places the fixture face at the region's corner.
type faceAt struct{}

func (faceAt) Predict(_ context.Context, _ *image.Gray, region image.Rectangle) (landmark.Set, error) {
	return landmarktest.Shifted(float64(region.Min.X), float64(region.Min.Y)), nil
}

func TestRunBlankImageWithPigoHasNoFace(t *testing.T) {
	regions, err := landmark.NewPigoRegions(landmark.PigoConfig{
		CascadePath: filepath.Join("..", "landmark", "testdata", "facefinder"),
		MinSize:     20,
		MinQuality:  5,
	})
	require.NoError(t, err)

	extractor := &countingExtractor{}
	root := t.TempDir()
	p := newTestPipeline(t, landmark.NewLocal(regions, faceAt{}, zap.NewNop()), root, WithExtractor(extractor.extract))

	_, err = p.Run(context.Background(), "req-blank", &Upload{Filename: "wall.png", Data: photo(t, true)})
	requireKind(t, err, KindNoFaceDetected, Detecting)
	assert.ErrorIs(t, err, ErrNoFaceDetected)
	assert.Zero(t, extractor.calls.Load())
	assertNoWorkspaces(t, root)
}

func TestRunUsesFirstDetectedFace(t *testing.T) {
	first := image.Rect(2, 2, 30, 30)
	orders := [][]image.Rectangle{
		{first, image.Rect(20, 20, 60, 60), image.Rect(40, 0, 64, 24)},
		{first, image.Rect(40, 0, 64, 24), image.Rect(20, 20, 60, 60)},
		{first},
	}

	var extractions []*Extraction
	for _, rects := range orders {
		detector := landmark.NewLocal(regionList{rects: rects}, faceAt{}, zap.NewNop())
		p := newTestPipeline(t, detector, t.TempDir())

		ex, err := p.Extract(context.Background(), "req", &Upload{Filename: "group.png", Data: photo(t, false)})
		require.NoError(t, err)
		extractions = append(extractions, ex)
	}

	assert.Equal(t, landmarktest.Shifted(2, 2), extractions[0].Landmarks)
	for _, ex := range extractions[1:] {
		assert.Equal(t, extractions[0].Features, ex.Features)
	}
}

func TestRunLeavesNoWorkspacesAcrossMixedRequests(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads", "predict")
	face := landmarktest.Face()
	withFace := newTestPipeline(t, &landmarktest.Detector{Set: &face}, root)
	noFace := newTestPipeline(t, &landmarktest.Detector{}, root)
	failing := newTestPipeline(t, &landmarktest.Detector{Err: errors.New("sidecar down")}, root)

	good := photo(t, false)
	blank := photo(t, true)

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				p      = withFace
				upload = &Upload{Filename: "face.png", Data: good}
			)
			switch i % 5 {
			case 1:
				upload.Data = []byte("not an image")
			case 2:
				upload = nil
			case 3:
				p, upload.Data = noFace, blank
			case 4:
				p = failing
			}
			if _, err := p.Run(context.Background(), fmt.Sprintf("req-%d", i), upload); err == nil {
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), succeeded.Load())
	assertNoWorkspaces(t, root)
}

func TestErrorUnwrapsToKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := error(newError(KindDetectionFailed, Detecting, cause))

	assert.ErrorIs(t, err, ErrDetectionFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNoFaceDetected)
	assert.Equal(t, "detection_failed while detecting: boom", err.Error())

	assert.Equal(t, KindDetectionFailed, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, KindArtifactLoadFailure, KindOf(fmt.Errorf("load bundle: %w", ErrArtifactLoadFailure)))
	assert.Equal(t, KindInternal, KindOf(errors.New("unrelated")))
}

func TestKindFaults(t *testing.T) {
	client := []Kind{KindMissingImage, KindUnreadableImage, KindNoFaceDetected, KindFeatureExtractionFailed}
	server := []Kind{KindDetectionFailed, KindArtifactLoadFailure, KindInternal}

	for _, k := range client {
		assert.Equal(t, FaultClient, k.Fault(), k)
	}
	for _, k := range server {
		assert.Equal(t, FaultServer, k.Fault(), k)
		assert.NotEmpty(t, k.Message())
	}
}
