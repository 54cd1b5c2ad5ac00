package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Landmark backends.
const (
	LandmarkBackendLocal  = "local"
	LandmarkBackendRemote = "remote"
)

// Region detectors used by the local landmark backend.
const (
	RegionDetectorPigo   = "pigo"
	RegionDetectorOpenCV = "opencv"
	RegionDetectorDlib   = "dlib"
)

// Artifacts locates the frozen model resources. Shared by the server and the CLI.
//
// The local landmark backend runs the shape predictor through ONNX Runtime, which is only
// compiled in with -tags onnxruntime; REGION_DETECTOR=opencv and REGION_DETECTOR=dlib also
// need -tags opencv and -tags dlib respectively. An
// untagged build must set LANDMARK_BACKEND=remote and point LANDMARK_ADDR at a sidecar.
type Artifacts struct {
	ModelBundlePath string `envconfig:"MODEL_BUNDLE_PATH" default:"models/model.json"`

	LandmarkBackend string `envconfig:"LANDMARK_BACKEND" default:"local"`
	LandmarkAddr    string `envconfig:"LANDMARK_ADDR" default:"landmark:50051"`

	RegionDetector    string  `envconfig:"REGION_DETECTOR" default:"pigo"`
	RegionCascadePath string  `envconfig:"REGION_CASCADE_PATH" default:"models/facefinder"`
	RegionMinQuality  float64 `envconfig:"REGION_MIN_QUALITY" default:"5.0"`
	RegionMinSize     int     `envconfig:"REGION_MIN_SIZE" default:"40"`
	DlibModelsDir     string  `envconfig:"DLIB_MODELS_DIR" default:"models/dlib"`

	ShapePredictorPath  string `envconfig:"SHAPE_PREDICTOR_PATH" default:"models/landmarks68.onnx"`
	ShapePredictorInput int    `envconfig:"SHAPE_PREDICTOR_INPUT" default:"112"`
	ONNXRuntimeLib      string `envconfig:"ONNXRUNTIME_LIB"`
}

type Config struct {
	// Server
	Port            int           `envconfig:"PORT" default:"8080"`
	Environment     string        `envconfig:"ENV" default:"development"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	// Storage
	DatabaseDSN string `envconfig:"DATABASE_DSN" required:"true"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"redis:6379"`

	// Security, optional: an empty secret disables the bearer-token gate.
	JWTSecret   string `envconfig:"JWT_SECRET"`
	JWTAudience string `envconfig:"JWT_AUDIENCE"`

	// Pipeline
	WorkspaceDir string `envconfig:"WORKSPACE_DIR" default:"uploads/predict"`
	Artifacts
}

// CLIConfig is the subset needed to run the pipeline without a server.
type CLIConfig struct {
	LogLevel     string `envconfig:"LOG_LEVEL" default:"warn"`
	WorkspaceDir string `envconfig:"WORKSPACE_DIR"`
	Artifacts
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Artifacts.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func LoadCLI() (*CLIConfig, error) {
	var cfg CLIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Artifacts.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func (a *Artifacts) validate() error {
	switch a.LandmarkBackend {
	case LandmarkBackendLocal, LandmarkBackendRemote:
	default:
		return fmt.Errorf("unknown landmark backend %q (supported: %s, %s)",
			a.LandmarkBackend, LandmarkBackendLocal, LandmarkBackendRemote)
	}
	switch a.RegionDetector {
	case RegionDetectorPigo, RegionDetectorOpenCV, RegionDetectorDlib:
	default:
		return fmt.Errorf("unknown region detector %q (supported: %s, %s, %s)",
			a.RegionDetector, RegionDetectorPigo, RegionDetectorOpenCV, RegionDetectorDlib)
	}
	if a.ShapePredictorInput <= 0 {
		return fmt.Errorf("shape predictor input size must be positive, got %d", a.ShapePredictorInput)
	}
	return nil
}
