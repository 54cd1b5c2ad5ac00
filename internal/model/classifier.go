// Package model holds the frozen scaler and classifier that turn a feature vector into a
// face-shape label.
package model

import (
	"errors"
	"math"

	"github.com/example/faceshape/internal/features"
)

var (
	// ErrShapeMismatch means an artifact was fit for a different feature layout.
	ErrShapeMismatch = errors.New("artifact shape mismatch")
	// ErrInvalidArtifact means an artifact is malformed.
	ErrInvalidArtifact = errors.New("invalid artifact")
)

// Classifier maps a scaled feature vector to one of its classes.
type Classifier interface {
	Classes() []string
	Predict(x features.Vector) string
}

// ProbabilisticClassifier also reports per-class probabilities.
type ProbabilisticClassifier interface {
	Classifier
	PredictProba(x features.Vector) map[string]float64
}

// Confidence returns the highest class probability rounded to two decimals, or nil when
// the classifier does not estimate probabilities.
func Confidence(c Classifier, x features.Vector) *float64 {
	pc, ok := c.(ProbabilisticClassifier)
	if !ok {
		return nil
	}
	best := 0.0
	for _, p := range pc.PredictProba(x) {
		if p > best {
			best = p
		}
	}
	rounded := RoundConfidence(best)
	return &rounded
}

// RoundConfidence clamps p to [0, 1] and rounds it to two decimals.
func RoundConfidence(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return math.Round(p*100) / 100
}

// argmax returns the first index holding the largest score.
func argmax(scores []float64) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

func dot(w []float64, x features.Vector) float64 {
	var sum float64
	for i, wi := range w {
		sum += wi * x[i]
	}
	return sum
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(z []float64) []float64 {
	maxZ := z[argmax(z)]
	out := make([]float64, len(z))
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func probabilityMap(classes []string, p []float64) map[string]float64 {
	m := make(map[string]float64, len(classes))
	for i, c := range classes {
		m[c] = p[i]
	}
	return m
}
