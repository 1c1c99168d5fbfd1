package filters

import (
	"fmt"
	"math"

	"brainprep/internal/imaging"
)

// Gaussian smooths the volume with a separable Gaussian kernel. Sigma is in
// physical units, so anisotropic voxel spacing yields matching anisotropic
// kernel widths; borders are handled by edge replication.
type Gaussian struct {
	Sigma float64
}

func (f Gaussian) Name() string { return "gaussian" }

func (f Gaussian) Apply(img *imaging.Image) (*imaging.Image, error) {
	if f.Sigma <= 0 {
		return nil, fmt.Errorf("gaussian sigma must be positive, got %g", f.Sigma)
	}

	dims := img.Dims()
	spacing := img.Spacing()
	src := append([]float64(nil), img.Data()...)
	dst := make([]float64, len(src))

	for axis := 0; axis < 3; axis++ {
		kernel := gaussianKernel(f.Sigma, spacing[axis])
		convolveAxis(src, dst, dims, axis, kernel)
		src, dst = dst, src
	}

	return img.WithSamples(floatType(img.PixelType()), src)
}

// gaussianKernel samples a normalized Gaussian at voxel steps, truncated at
// three sigma.
func gaussianKernel(sigma, spacing float64) []float64 {
	radius := int(math.Ceil(3 * sigma / spacing))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		d := float64(i) * spacing
		w := math.Exp(-d * d / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func convolveAxis(src, dst []float64, dims [3]int, axis int, kernel []float64) {
	radius := len(kernel) / 2
	stride := [3]int{1, dims[0], dims[0] * dims[1]}[axis]
	length := dims[axis]

	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				pos := [3]int{x, y, z}
				base := (z*dims[1]+y)*dims[0] + x
				var acc float64
				for k := -radius; k <= radius; k++ {
					i := clampIndex(pos[axis]+k, length)
					acc += kernel[k+radius] * src[base+(i-pos[axis])*stride]
				}
				dst[base] = acc
			}
		}
	}
}
