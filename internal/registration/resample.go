package registration

import (
	"fmt"
	"math"
	"strings"

	"brainprep/internal/imaging"
)

// Interpolation selects how samples between voxel centers are derived.
type Interpolation int

const (
	Linear Interpolation = iota
	NearestNeighbor
)

func (i Interpolation) String() string {
	if i == NearestNeighbor {
		return "nearest"
	}
	return "linear"
}

// ParseInterpolation maps a configuration spelling to an interpolation mode.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "trilinear":
		return Linear, nil
	case "nearest", "nn", "nearest-neighbor", "nearest_neighbor":
		return NearestNeighbor, nil
	default:
		return 0, fmt.Errorf("unknown interpolation %q", s)
	}
}

// Resample maps the moving volume onto the reference grid through a rigid
// transform. Each reference voxel samples the moving volume at the
// transformed physical position; points outside the moving volume read as
// zero. Label volumes only admit nearest-neighbor interpolation so that no
// new label values are invented.
func Resample(moving, ref *imaging.Image, t RigidTransform, interp Interpolation) (*imaging.Image, error) {
	if moving.PixelType().IsUnsignedInt() && interp != NearestNeighbor {
		return nil, fmt.Errorf("label volumes must be resampled with nearest-neighbor interpolation")
	}

	src := newSampler(moving, t)
	dims := ref.Dims()
	samples := make([]float64, ref.NumVoxels())
	idx := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				p := ref.IndexToPhysical(float64(x), float64(y), float64(z))
				samples[idx] = src.at(p, interp)
				idx++
			}
		}
	}

	return imaging.New(dims, moving.PixelType(), ref.Geometry(), samples)
}

// sampler caches the transform's rotation matrix and answers point queries
// against the moving volume.
type sampler struct {
	img *imaging.Image
	t   RigidTransform
	m   [3][3]float64
}

func newSampler(img *imaging.Image, t RigidTransform) *sampler {
	return &sampler{img: img, t: t, m: t.Matrix()}
}

func (s *sampler) at(p [3]float64, interp Interpolation) float64 {
	q := applyMatrix(s.m, s.t, p)
	idx := s.img.PhysicalToIndex(q)
	if interp == NearestNeighbor {
		return s.nearest(idx)
	}
	return s.trilinear(idx)
}

func (s *sampler) nearest(idx [3]float64) float64 {
	x := int(math.Round(idx[0]))
	y := int(math.Round(idx[1]))
	z := int(math.Round(idx[2]))
	dims := s.img.Dims()
	if x < 0 || y < 0 || z < 0 || x >= dims[0] || y >= dims[1] || z >= dims[2] {
		return 0
	}
	return s.img.At(x, y, z)
}

func (s *sampler) trilinear(idx [3]float64) float64 {
	x0, fx := splitIndex(idx[0])
	y0, fy := splitIndex(idx[1])
	z0, fz := splitIndex(idx[2])

	var acc float64
	for dz := 0; dz < 2; dz++ {
		wz := cornerWeight(fz, dz)
		if wz == 0 {
			continue
		}
		for dy := 0; dy < 2; dy++ {
			wy := cornerWeight(fy, dy)
			if wy == 0 {
				continue
			}
			for dx := 0; dx < 2; dx++ {
				wx := cornerWeight(fx, dx)
				if wx == 0 {
					continue
				}
				acc += wx * wy * wz * s.sampleOrZero(x0+dx, y0+dy, z0+dz)
			}
		}
	}
	return acc
}

func (s *sampler) sampleOrZero(x, y, z int) float64 {
	dims := s.img.Dims()
	if x < 0 || y < 0 || z < 0 || x >= dims[0] || y >= dims[1] || z >= dims[2] {
		return 0
	}
	return s.img.At(x, y, z)
}

func splitIndex(v float64) (int, float64) {
	f := math.Floor(v)
	return int(f), v - f
}

func cornerWeight(frac float64, d int) float64 {
	if d == 0 {
		return 1 - frac
	}
	return frac
}
