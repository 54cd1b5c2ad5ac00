// Package landmarktest provides landmark fixtures and detector doubles for tests.
package landmarktest

import (
	"context"
	"image"
	"sync"

	"github.com/example/faceshape/internal/landmark"
)

// fixture is a hand-placed frontal face in a 230x230 frame.
var fixture = [landmark.Count][2]float64{
	// jaw 0-16
	{40, 80}, {41, 100}, {44, 120}, {49, 139}, {57, 156}, {68, 170}, {82, 181}, {98, 188},
	{115, 190},
	{132, 188}, {148, 181}, {162, 170}, {173, 156}, {181, 139}, {186, 120}, {189, 100}, {190, 80},
	// eyebrows 17-26
	{52, 64}, {62, 56}, {75, 54}, {88, 56}, {100, 61},
	{130, 61}, {142, 56}, {155, 54}, {168, 56}, {178, 64},
	// nose 27-35
	{115, 78}, {115, 92}, {115, 106}, {115, 120},
	{101, 130}, {108, 132}, {115, 134}, {122, 132}, {129, 130},
	// eyes 36-47
	{70, 82}, {78, 77}, {88, 77}, {96, 83}, {88, 86}, {78, 86},
	{134, 83}, {142, 77}, {152, 77}, {160, 82}, {152, 86}, {142, 86},
	// mouth 48-67
	{91, 155}, {100, 150}, {109, 147}, {115, 148}, {121, 147}, {130, 150}, {139, 155},
	{130, 162}, {121, 165}, {115, 166}, {109, 165}, {100, 162},
	{95, 155}, {109, 152}, {115, 153}, {121, 152}, {135, 155}, {121, 158}, {115, 159}, {109, 158},
}

// Face returns the fixture landmark set.
func Face() landmark.Set {
	var set landmark.Set
	for i, p := range fixture {
		set[i] = landmark.Point{X: p[0], Y: p[1]}
	}
	return set
}

// Shifted returns the fixture translated by (dx, dy).
func Shifted(dx, dy float64) landmark.Set {
	set := Face()
	for i := range set {
		set[i].X += dx
		set[i].Y += dy
	}
	return set
}

// Detector is a landmark.Detector double returning a fixed answer and counting calls.
type Detector struct {
	mu    sync.Mutex
	Set   *landmark.Set
	Err   error
	calls   int
	paths   []string
	bitmaps []image.Image
}

// Detect records the call and returns the configured set or error.
func (d *Detector) Detect(_ context.Context, img landmark.Image) (*landmark.Set, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.paths = append(d.paths, img.Path)
	d.bitmaps = append(d.bitmaps, img.Bitmap)
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Set == nil {
		return nil, nil
	}
	set := *d.Set
	return &set, nil
}

// Calls reports how many times Detect ran.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Paths returns the workspace paths the detector was given.
func (d *Detector) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}

// Bitmaps returns the images the detector was given.
func (d *Detector) Bitmaps() []image.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]image.Image(nil), d.bitmaps...)
}
