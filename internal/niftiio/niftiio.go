// Package niftiio decodes NIfTI-1 volumes (.nii, .nii.gz) into the shared
// Image type using the henghuang/nifti parser.
package niftiio

import (
	"fmt"
	"strings"

	"github.com/henghuang/nifti"

	"brainprep/internal/imaging"
)

// Matches reports whether a path carries a NIfTI-1 extension.
func Matches(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz")
}

// Load reads a NIfTI-1 volume. Only single-frame 3-D volumes are supported,
// and spatial placement beyond voxel spacing is not recovered from the
// header; samples surface as float32.
func Load(path string) (*imaging.Image, error) {
	parsed, err := safelyParse(path)
	if err != nil {
		return nil, err
	}

	dims := parsed.GetDims()
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("volume has empty spatial dimensions %v", dims)
	}
	if dims[3] > 1 {
		return nil, fmt.Errorf("4-D volumes are not supported (found %d frames)", dims[3])
	}

	hdr, err := safelyParseHeader(path)
	if err != nil {
		return nil, err
	}
	geom := imaging.DefaultGeometry()
	for axis := 0; axis < 3; axis++ {
		if s := float64(hdr.Pixdim[axis+1]); s > 0 {
			geom.Spacing[axis] = s
		}
	}

	nx, ny, nz := dims[0], dims[1], dims[2]
	samples := make([]float64, nx*ny*nz)
	idx := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				samples[idx] = float64(parsed.GetAt(x, y, z, 0))
				idx++
			}
		}
	}

	return imaging.New([3]int{nx, ny, nz}, imaging.Float32, geom, samples)
}

// safelyParse consumes panics emitted by the nifti library, which are
// inappropriate and must be captured in order to turn them into recoverable
// errors.
func safelyParse(path string) (parsed nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("nifti parse failed: %v", panicErr)
		}
	}()

	parsed.LoadImage(path, true)

	return
}

// safelyParseHeader is the header-only counterpart of safelyParse.
func safelyParseHeader(path string) (parsed nifti.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("nifti header parse failed: %v", panicErr)
		}
	}()

	parsed.LoadHeader(path)

	return
}
