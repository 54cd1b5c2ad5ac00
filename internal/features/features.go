// Package features turns a 68-point landmark set into the fixed-order geometric feature
// vector the frozen classifier was trained on.
//
// The order, the landmark indices and the atan2 argument order of every entry are part of
// the model contract. The jaw angles pass (dx, dy) while the eye-to-nose angle passes
// (dy, dx); both are kept as trained.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/faceshape/internal/landmark"
)

// Size is the length of every feature vector: 3 ratios, 16 jaw angles, 3 distances,
// the eye-chin triangle area, three further proportions and the eye-to-nose angle.
const Size = 27

// Vector is a feature vector, raw or scaled.
type Vector [Size]float64

// ErrDegenerateGeometry is returned when a reference distance is zero or a feature is not
// finite, which means the landmark set did not come from a real face.
var ErrDegenerateGeometry = errors.New("degenerate landmark geometry")

// Names labels each slot of a Vector.
var Names = [Size]string{
	"chin_brow_to_width_ratio",
	"jaw_width_to_width_ratio",
	"chin_brow_to_jaw_width_ratio",
	"jaw_angle_1", "jaw_angle_2", "jaw_angle_3", "jaw_angle_4",
	"jaw_angle_5", "jaw_angle_6", "jaw_angle_7", "jaw_angle_8",
	"jaw_angle_10", "jaw_angle_11", "jaw_angle_12", "jaw_angle_13",
	"jaw_angle_14", "jaw_angle_15", "jaw_angle_16", "jaw_angle_17",
	"inter_eye_distance",
	"mouth_width",
	"face_height",
	"eye_chin_triangle_area",
	"width_to_height_ratio",
	"eye_symmetry",
	"mouth_aspect_ratio",
	"eye_to_nose_angle",
}

// Synthesize computes the feature vector. It is a pure function of set.
func Synthesize(set landmark.Set) (Vector, error) {
	var v Vector
	n := 0
	push := func(x float64) { v[n] = x; n++ }

	width := dist(set[1], set[17])
	jawWidth := dist(set[5], set[13])
	height := dist(set[27], set[8])
	mouthWidth := dist(set[48], set[54])
	mouthHeight := dist(set[51], set[57])

	for _, ref := range []struct {
		name string
		d    float64
	}{
		{"width (1-17)", width},
		{"jaw width (5-13)", jawWidth},
		{"height (27-8)", height},
		{"mouth height (51-57)", mouthHeight},
	} {
		if ref.d == 0 {
			return Vector{}, fmt.Errorf("%w: zero %s", ErrDegenerateGeometry, ref.name)
		}
	}

	push(dist(set[9], set[18]) / width)
	push(jawWidth / width)
	push(dist(set[9], set[19]) / jawWidth)

	chin := set[9]
	for i := 4; i <= 11; i++ {
		p := set[i-3]
		push(math.Atan2(p.X-chin.X, p.Y-chin.Y))
	}
	for i := 12; i <= 19; i++ {
		p := set[i-2]
		push(math.Atan2(p.X-chin.X, p.Y-chin.Y))
	}

	push(dist(set[36], set[45]))
	push(mouthWidth)
	push(height)

	push(triangleArea(set[36], set[45], set[8]))
	push(width / height)

	var symmetry float64
	const eyePoints = 6
	for k := 0; k < eyePoints; k++ {
		left := dist(set[36+k], set[27])
		right := dist(set[42+k], set[27])
		symmetry += math.Abs(left - right)
	}
	push(symmetry / eyePoints)

	push(mouthWidth / mouthHeight)

	eyeCenter := landmark.Point{X: (set[36].X + set[45].X) / 2, Y: (set[36].Y + set[45].Y) / 2}
	nose := set[33]
	push(math.Atan2(nose.Y-eyeCenter.Y, nose.X-eyeCenter.X))

	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Vector{}, fmt.Errorf("%w: %s is not finite", ErrDegenerateGeometry, Names[i])
		}
	}
	return v, nil
}

func dist(a, b landmark.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// triangleArea is the shoelace area of abc.
func triangleArea(a, b, c landmark.Point) float64 {
	return 0.5 * math.Abs(a.X*(b.Y-c.Y)+b.X*(c.Y-a.Y)+c.X*(a.Y-b.Y))
}
