package landmark

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// cropInput resizes the face region to size x size and returns it as a row-major
// plane of intensities in [0, 1].
func cropInput(gray *image.Gray, region image.Rectangle, size int) ([]float32, error) {
	region = region.Intersect(gray.Bounds())
	if region.Empty() || size <= 0 {
		return nil, fmt.Errorf("empty face region %v", region)
	}
	crop := gray.SubImage(region)
	resized := imaging.Resize(crop, size, size, imaging.Linear)

	plane := make([]float32, size*size)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			plane[y*size+x] = float32(row[x*4]) / 255
		}
	}
	return plane, nil
}

// setFromNormalized maps 136 crop-relative coordinates in [0, 1] back to whole-pixel
// image coordinates.
func setFromNormalized(output []float32, region image.Rectangle) (Set, error) {
	var set Set
	if len(output) != 2*Count {
		return set, fmt.Errorf("shape model returned %d values, want %d", len(output), 2*Count)
	}
	w := float64(region.Dx())
	h := float64(region.Dy())
	for i := range set {
		x := float64(output[2*i])
		y := float64(output[2*i+1])
		if math.IsNaN(x) || math.IsNaN(y) {
			return set, fmt.Errorf("shape model returned NaN for point %d", i)
		}
		set[i] = Point{
			X: math.Round(float64(region.Min.X) + x*w),
			Y: math.Round(float64(region.Min.Y) + y*h),
		}
	}
	return set, nil
}
