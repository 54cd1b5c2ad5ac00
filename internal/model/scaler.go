package model

import (
	"fmt"
	"math"

	"github.com/example/faceshape/internal/features"
)

// Scaler standardizes a feature vector with a frozen per-component mean and scale.
type Scaler struct {
	Mean  features.Vector
	Scale features.Vector
}

// NewScaler validates the fitted parameters. A length other than features.Size means the
// artifact was fit for a different feature layout.
func NewScaler(mean, scale []float64) (*Scaler, error) {
	if len(mean) != features.Size || len(scale) != features.Size {
		return nil, fmt.Errorf("%w: scaler has %d means and %d scales, want %d",
			ErrShapeMismatch, len(mean), len(scale), features.Size)
	}
	s := &Scaler{}
	for i := 0; i < features.Size; i++ {
		if !finite(mean[i]) || !finite(scale[i]) || scale[i] == 0 {
			return nil, fmt.Errorf("%w: scaler component %d (%s) has mean %v scale %v",
				ErrInvalidArtifact, i, features.Names[i], mean[i], scale[i])
		}
		s.Mean[i] = mean[i]
		s.Scale[i] = scale[i]
	}
	return s, nil
}

// Transform returns (v - mean) / scale per component.
func (s *Scaler) Transform(v features.Vector) features.Vector {
	var out features.Vector
	for i := range v {
		out[i] = (v[i] - s.Mean[i]) / s.Scale[i]
	}
	return out
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
