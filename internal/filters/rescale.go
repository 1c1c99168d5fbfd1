package filters

import (
	"brainprep/internal/imaging"
)

// Rescale maps the volume's intensity range linearly onto [Min, Max]. A
// volume with no dynamic range comes out uniformly at Min.
type Rescale struct {
	Min float64
	Max float64
}

func (f Rescale) Name() string { return "rescale" }

func (f Rescale) Apply(img *imaging.Image) (*imaging.Image, error) {
	if f.Min >= f.Max {
		return nil, &InvalidRangeError{Min: f.Min, Max: f.Max}
	}

	lo, hi := img.MinMax()
	out := make([]float64, img.NumVoxels())
	if hi == lo {
		for i := range out {
			out[i] = f.Min
		}
		return img.WithSamples(floatType(img.PixelType()), out)
	}

	scale := (f.Max - f.Min) / (hi - lo)
	for i, v := range img.Data() {
		out[i] = f.Min + (v-lo)*scale
	}
	return img.WithSamples(floatType(img.PixelType()), out)
}
