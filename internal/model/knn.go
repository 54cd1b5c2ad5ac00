package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/example/faceshape/internal/features"
)

// KNeighbors votes among the k nearest stored samples in scaled feature space.
type KNeighbors struct {
	classes  []string
	samples  []features.Vector
	labels   []int
	k        int
	distance bool
}

// NewKNeighbors validates the stored samples. weights is "uniform" or "distance".
func NewKNeighbors(classes []string, samples [][]float64, labels []string, k int, weights string) (*KNeighbors, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrInvalidArtifact)
	}
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, fmt.Errorf("%w: %d samples with %d labels", ErrShapeMismatch, len(samples), len(labels))
	}
	if k <= 0 || k > len(samples) {
		return nil, fmt.Errorf("%w: k=%d with %d samples", ErrInvalidArtifact, k, len(samples))
	}

	var distance bool
	switch weights {
	case "", "uniform":
	case "distance":
		distance = true
	default:
		return nil, fmt.Errorf("%w: unknown weights %q", ErrInvalidArtifact, weights)
	}

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	m := &KNeighbors{classes: classes, k: k, distance: distance}
	for i, row := range samples {
		if len(row) != features.Size {
			return nil, fmt.Errorf("%w: sample %d has %d features, want %d",
				ErrShapeMismatch, i, len(row), features.Size)
		}
		label, ok := index[labels[i]]
		if !ok {
			return nil, fmt.Errorf("%w: sample %d has unknown label %q", ErrInvalidArtifact, i, labels[i])
		}
		var v features.Vector
		copy(v[:], row)
		m.samples = append(m.samples, v)
		m.labels = append(m.labels, label)
	}
	return m, nil
}

func (m *KNeighbors) Classes() []string {
	return append([]string(nil), m.classes...)
}

func (m *KNeighbors) Predict(x features.Vector) string {
	return m.classes[argmax(m.votes(x))]
}

func (m *KNeighbors) PredictProba(x features.Vector) map[string]float64 {
	votes := m.votes(x)
	var total float64
	for _, v := range votes {
		total += v
	}
	for i := range votes {
		votes[i] /= total
	}
	return probabilityMap(m.classes, votes)
}

type neighbour struct {
	dist  float64
	label int
}

// votes returns per-class weight among the k nearest samples. With distance weighting an
// exact match takes all the weight, as in scikit-learn.
func (m *KNeighbors) votes(x features.Vector) []float64 {
	nearest := make([]neighbour, len(m.samples))
	for i, s := range m.samples {
		var sum float64
		for j := range s {
			d := s[j] - x[j]
			sum += d * d
		}
		nearest[i] = neighbour{dist: math.Sqrt(sum), label: m.labels[i]}
	}
	sort.SliceStable(nearest, func(i, j int) bool { return nearest[i].dist < nearest[j].dist })
	nearest = nearest[:m.k]

	votes := make([]float64, len(m.classes))
	if m.distance {
		exact := false
		for _, n := range nearest {
			if n.dist == 0 {
				votes[n.label]++
				exact = true
			}
		}
		if exact {
			return votes
		}
		for _, n := range nearest {
			votes[n.label] += 1 / n.dist
		}
		return votes
	}
	for _, n := range nearest {
		votes[n.label]++
	}
	return votes
}
