// Package filters holds the voxel-level preprocessing steps. Every filter
// consumes an immutable volume and returns a freshly allocated result; the
// input is never written to.
package filters

import (
	"fmt"

	"brainprep/internal/imaging"
)

// Filter is one preprocessing step. Implementations must leave the input
// untouched and derive a new volume.
type Filter interface {
	Name() string
	Apply(img *imaging.Image) (*imaging.Image, error)
}

// InvalidRangeError reports a rescale target whose minimum does not lie
// below its maximum.
type InvalidRangeError struct {
	Min float64
	Max float64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid rescale range: min %g must lie below max %g", e.Min, e.Max)
}

// floatType keeps floating-point inputs as they are and widens integer
// inputs, for filters whose arithmetic produces fractional samples.
func floatType(t imaging.PixelType) imaging.PixelType {
	if t.IsFloat() {
		return t
	}
	return imaging.Float32
}
