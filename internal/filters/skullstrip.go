package filters

import (
	"fmt"

	"brainprep/internal/imaging"
)

// SkullStrip zeroes every sample outside the brain mask. The mask must live
// on the same grid as the input; any nonzero mask value keeps the sample.
type SkullStrip struct {
	Mask *imaging.Image
}

func (f SkullStrip) Name() string { return "skullstrip" }

func (f SkullStrip) Apply(img *imaging.Image) (*imaging.Image, error) {
	if f.Mask == nil {
		return nil, fmt.Errorf("skull stripping requires a brain mask")
	}
	if !img.SameGrid(f.Mask) {
		return nil, fmt.Errorf("brain mask grid does not match the volume")
	}

	mask := f.Mask.Data()
	out := make([]float64, img.NumVoxels())
	for i, v := range img.Data() {
		if mask[i] != 0 {
			out[i] = v
		}
	}
	return img.WithSamples(img.PixelType(), out)
}
