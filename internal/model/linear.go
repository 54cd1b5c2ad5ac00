package model

import (
	"fmt"

	"github.com/example/faceshape/internal/features"
)

// linear holds the decision function shared by logistic regression and linear SVC. A
// binary model stores a single row whose positive side is classes[1].
type linear struct {
	classes   []string
	coef      [][]float64
	intercept []float64
}

func newLinear(classes []string, coef [][]float64, intercept []float64) (linear, error) {
	if len(classes) < 2 {
		return linear{}, fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidArtifact, len(classes))
	}
	rows := len(classes)
	if rows == 2 {
		rows = 1
	}
	if len(coef) != rows || len(intercept) != rows {
		return linear{}, fmt.Errorf("%w: %d classes need %d coefficient rows and intercepts, got %d and %d",
			ErrShapeMismatch, len(classes), rows, len(coef), len(intercept))
	}
	for i, row := range coef {
		if len(row) != features.Size {
			return linear{}, fmt.Errorf("%w: coefficient row %d has %d weights, want %d",
				ErrShapeMismatch, i, len(row), features.Size)
		}
	}
	return linear{classes: classes, coef: coef, intercept: intercept}, nil
}

func (l linear) Classes() []string {
	return append([]string(nil), l.classes...)
}

func (l linear) decision(x features.Vector) []float64 {
	scores := make([]float64, len(l.coef))
	for i, row := range l.coef {
		scores[i] = dot(row, x) + l.intercept[i]
	}
	return scores
}

func (l linear) predict(x features.Vector) string {
	scores := l.decision(x)
	if len(scores) == 1 {
		if scores[0] > 0 {
			return l.classes[1]
		}
		return l.classes[0]
	}
	return l.classes[argmax(scores)]
}

// LogisticRegression is a fitted logistic model. Multinomial models use softmax; one-vs-rest
// models normalize per-class sigmoids.
type LogisticRegression struct {
	linear
	multinomial bool
}

// NewLogisticRegression validates shapes against the feature layout.
func NewLogisticRegression(classes []string, coef [][]float64, intercept []float64, multinomial bool) (*LogisticRegression, error) {
	l, err := newLinear(classes, coef, intercept)
	if err != nil {
		return nil, err
	}
	return &LogisticRegression{linear: l, multinomial: multinomial}, nil
}

func (m *LogisticRegression) Predict(x features.Vector) string {
	return m.predict(x)
}

func (m *LogisticRegression) PredictProba(x features.Vector) map[string]float64 {
	scores := m.decision(x)
	if len(scores) == 1 {
		p := sigmoid(scores[0])
		return probabilityMap(m.classes, []float64{1 - p, p})
	}
	if m.multinomial {
		return probabilityMap(m.classes, softmax(scores))
	}
	p := make([]float64, len(scores))
	var sum float64
	for i, z := range scores {
		p[i] = sigmoid(z)
		sum += p[i]
	}
	for i := range p {
		p[i] /= sum
	}
	return probabilityMap(m.classes, p)
}

// LinearSVC is a linear support vector classifier without probability calibration.
type LinearSVC struct {
	linear
}

// NewLinearSVC validates shapes against the feature layout.
func NewLinearSVC(classes []string, coef [][]float64, intercept []float64) (*LinearSVC, error) {
	l, err := newLinear(classes, coef, intercept)
	if err != nil {
		return nil, err
	}
	return &LinearSVC{linear: l}, nil
}

func (m *LinearSVC) Predict(x features.Vector) string {
	return m.predict(x)
}
