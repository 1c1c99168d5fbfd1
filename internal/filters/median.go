package filters

import (
	"fmt"
	"sort"

	"brainprep/internal/imaging"
)

// Median replaces each sample with the median of its cubic neighborhood of
// (2*Radius+1)^3 voxels, clamping the window at the volume borders. The
// median of an odd-sized window is always one of the input samples, so the
// filter is safe on label maps and leaves flat regions untouched.
type Median struct {
	Radius int
}

func (f Median) Name() string { return "median" }

func (f Median) Apply(img *imaging.Image) (*imaging.Image, error) {
	if f.Radius < 1 {
		return nil, fmt.Errorf("median radius must be at least 1, got %d", f.Radius)
	}

	dims := img.Dims()
	out := make([]float64, img.NumVoxels())
	window := make([]float64, 0, (2*f.Radius+1)*(2*f.Radius+1)*(2*f.Radius+1))

	idx := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				window = window[:0]
				for dz := -f.Radius; dz <= f.Radius; dz++ {
					zz := clampIndex(z+dz, dims[2])
					for dy := -f.Radius; dy <= f.Radius; dy++ {
						yy := clampIndex(y+dy, dims[1])
						for dx := -f.Radius; dx <= f.Radius; dx++ {
							xx := clampIndex(x+dx, dims[0])
							window = append(window, img.At(xx, yy, zz))
						}
					}
				}
				sort.Float64s(window)
				out[idx] = window[len(window)/2]
				idx++
			}
		}
	}

	return img.WithSamples(img.PixelType(), out)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
