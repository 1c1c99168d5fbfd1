package filters

import (
	"fmt"

	"brainprep/internal/imaging"
	"brainprep/internal/registration"
)

// Resample changes the voxel matrix of a volume while preserving its
// physical extent, adjusting spacing and origin so the volume center stays
// put. Label maps must use nearest-neighbor interpolation.
type Resample struct {
	Size          [3]int
	Interpolation registration.Interpolation
}

func (f Resample) Name() string { return "resample" }

func (f Resample) Apply(img *imaging.Image) (*imaging.Image, error) {
	for axis, n := range f.Size {
		if n <= 0 {
			return nil, fmt.Errorf("resample size must be positive, axis %d got %d", axis, n)
		}
	}

	ref, err := resampleGrid(img, f.Size)
	if err != nil {
		return nil, err
	}
	return registration.Resample(img, ref, registration.Identity(), f.Interpolation)
}

// resampleGrid derives the target grid: spacing scales with the dimension
// ratio and the origin shifts so both grids share their physical center.
func resampleGrid(img *imaging.Image, size [3]int) (*imaging.Image, error) {
	geom := img.Geometry()
	oldDims := img.Dims()

	for axis := 0; axis < 3; axis++ {
		geom.Spacing[axis] *= float64(oldDims[axis]) / float64(size[axis])
	}

	// Shift the origin along the direction axes so the center of the new
	// grid lands on the center of the old one.
	d := geom.Direction
	for axis := 0; axis < 3; axis++ {
		oldHalf := float64(oldDims[axis]-1) / 2 * img.Spacing()[axis]
		newHalf := float64(size[axis]-1) / 2 * geom.Spacing[axis]
		delta := oldHalf - newHalf
		for r := 0; r < 3; r++ {
			geom.Origin[r] += d[r][axis] * delta
		}
	}

	return imaging.NewUniform(size, img.PixelType(), geom, 0)
}
