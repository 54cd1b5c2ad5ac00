package model

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/example/faceshape/internal/features"
)

// Classifier types understood by LoadBundle.
const (
	TypeLogisticRegression = "logistic_regression"
	TypeLinearSVC          = "linear_svc"
	TypeKNeighbors         = "knn"
)

// bundleFormatVersion is the only bundle layout this build reads.
const bundleFormatVersion = 1

// Bundle is a frozen scaler and classifier pair fitted together offline.
type Bundle struct {
	Version    string
	CreatedAt  time.Time
	Scaler     *Scaler
	Classifier Classifier
}

type bundleFile struct {
	FormatVersion int       `json:"format_version"`
	Version       string    `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	FeatureCount  int       `json:"feature_count"`
	Scaler        struct {
		Mean  []float64 `json:"mean"`
		Scale []float64 `json:"scale"`
	} `json:"scaler"`
	Classifier classifierFile `json:"classifier"`
}

type classifierFile struct {
	Type      string      `json:"type"`
	Classes   []string    `json:"classes"`
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
	// logistic_regression: "multinomial" or "ovr"
	MultiClass string `json:"multi_class"`
	// knn
	Samples [][]float64 `json:"samples"`
	Labels  []string    `json:"labels"`
	K       int         `json:"k"`
	Weights string      `json:"weights"`
}

// LoadBundle reads a bundle file from disk.
func LoadBundle(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model bundle: %w", err)
	}
	defer f.Close()

	b, err := DecodeBundle(f)
	if err != nil {
		return nil, fmt.Errorf("model bundle %s: %w", path, err)
	}
	return b, nil
}

// DecodeBundle parses and validates a bundle.
func DecodeBundle(r io.Reader) (*Bundle, error) {
	var raw bundleFile
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidArtifact, err)
	}
	if raw.FormatVersion != bundleFormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d",
			ErrInvalidArtifact, raw.FormatVersion, bundleFormatVersion)
	}
	if raw.FeatureCount != features.Size {
		return nil, fmt.Errorf("%w: bundle fitted on %d features, pipeline produces %d",
			ErrShapeMismatch, raw.FeatureCount, features.Size)
	}

	scaler, err := NewScaler(raw.Scaler.Mean, raw.Scaler.Scale)
	if err != nil {
		return nil, err
	}
	classifier, err := raw.Classifier.build()
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Version:    raw.Version,
		CreatedAt:  raw.CreatedAt,
		Scaler:     scaler,
		Classifier: classifier,
	}, nil
}

func (c classifierFile) build() (Classifier, error) {
	seen := make(map[string]bool, len(c.Classes))
	for _, name := range c.Classes {
		if name == "" || seen[name] {
			return nil, fmt.Errorf("%w: empty or duplicate class %q", ErrInvalidArtifact, name)
		}
		seen[name] = true
	}

	switch c.Type {
	case TypeLogisticRegression:
		multinomial := true
		switch c.MultiClass {
		case "", "multinomial", "auto":
		case "ovr":
			multinomial = false
		default:
			return nil, fmt.Errorf("%w: unknown multi_class %q", ErrInvalidArtifact, c.MultiClass)
		}
		m, err := NewLogisticRegression(c.Classes, c.Coef, c.Intercept, multinomial)
		if err != nil {
			return nil, err
		}
		return m, nil
	case TypeLinearSVC:
		m, err := NewLinearSVC(c.Classes, c.Coef, c.Intercept)
		if err != nil {
			return nil, err
		}
		return m, nil
	case TypeKNeighbors:
		m, err := NewKNeighbors(c.Classes, c.Samples, c.Labels, c.K, c.Weights)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown classifier type %q", ErrInvalidArtifact, c.Type)
	}
}
