// Package imaging defines the in-memory volume type shared by every pipeline
// stage. An Image couples a 3-D sample array with its spatial placement
// (origin, spacing, direction cosines) and the sample encoding it is bound to
// on disk. Images are immutable: stages derive new Images instead of mutating.
package imaging

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PixelType identifies the on-disk sample encoding an Image is bound to.
// Samples are held as float64 in memory regardless of type; the type records
// the contract enforced at decode and encode time.
type PixelType int

const (
	Float32 PixelType = iota
	Float64
	UInt8
	UInt16
	Int16
	Int32
)

func (t PixelType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case UInt8:
		return "uint8"
	case UInt16:
		return "uint16"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	default:
		return fmt.Sprintf("pixeltype(%d)", int(t))
	}
}

// IsFloat reports whether the type is a floating-point encoding.
func (t PixelType) IsFloat() bool {
	return t == Float32 || t == Float64
}

// IsUnsignedInt reports whether the type is an unsigned integer encoding.
func (t PixelType) IsUnsignedInt() bool {
	return t == UInt8 || t == UInt16
}

// BytesPerSample returns the on-disk width of one sample.
func (t PixelType) BytesPerSample() int {
	switch t {
	case UInt8:
		return 1
	case UInt16, Int16:
		return 2
	case Float32, Int32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// MaxValue returns the largest value an unsigned integer type can hold.
// Float types return +Inf semantics via 0; callers check IsUnsignedInt first.
func (t PixelType) MaxValue() float64 {
	switch t {
	case UInt8:
		return 255
	case UInt16:
		return 65535
	default:
		return 0
	}
}

// Geometry captures the spatial placement of a volume: where voxel (0,0,0)
// sits, how far apart voxels are along each axis, and how the index axes are
// oriented in physical space.
type Geometry struct {
	Spacing   [3]float64
	Origin    [3]float64
	Direction [3][3]float64
}

// DefaultGeometry returns unit spacing, zero origin, identity orientation.
func DefaultGeometry() Geometry {
	return Geometry{
		Spacing:   [3]float64{1, 1, 1},
		Direction: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

// Image is a 3-D volume. The sample array is laid out x-fastest:
// offset = (z*ny + y)*nx + x.
type Image struct {
	dims      [3]int
	geom      Geometry
	pixelType PixelType
	samples   []float64
	dirInv    [3][3]float64
}

// New builds an Image over the provided samples. The slice is adopted, not
// copied; callers hand over ownership. Dims must be positive, spacing
// positive, the sample count must match the dims product, and the direction
// matrix must be invertible.
func New(dims [3]int, typ PixelType, geom Geometry, samples []float64) (*Image, error) {
	for axis, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("imaging: dimension %d must be positive, got %d", axis, d)
		}
	}
	for axis, s := range geom.Spacing {
		if s <= 0 {
			return nil, fmt.Errorf("imaging: spacing %d must be positive, got %g", axis, s)
		}
	}
	if want := dims[0] * dims[1] * dims[2]; len(samples) != want {
		return nil, fmt.Errorf("imaging: sample count %d does not match dims %dx%dx%d (%d)",
			len(samples), dims[0], dims[1], dims[2], want)
	}
	inv, err := invertDirection(geom.Direction)
	if err != nil {
		return nil, err
	}
	return &Image{dims: dims, geom: geom, pixelType: typ, samples: samples, dirInv: inv}, nil
}

// NewUniform builds an Image filled with a single value, mostly useful in
// tests and for synthetic reference volumes.
func NewUniform(dims [3]int, typ PixelType, geom Geometry, value float64) (*Image, error) {
	samples := make([]float64, dims[0]*dims[1]*dims[2])
	if value != 0 {
		for i := range samples {
			samples[i] = value
		}
	}
	return New(dims, typ, geom, samples)
}

func invertDirection(d [3][3]float64) ([3][3]float64, error) {
	dense := mat.NewDense(3, 3, []float64{
		d[0][0], d[0][1], d[0][2],
		d[1][0], d[1][1], d[1][2],
		d[2][0], d[2][1], d[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(dense); err != nil {
		return [3][3]float64{}, fmt.Errorf("imaging: direction matrix is singular: %w", err)
	}
	var out [3][3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = inv.At(r, c)
		}
	}
	return out, nil
}

// WithSamples derives a new Image sharing this image's grid but carrying new
// samples and possibly a new pixel type. The usual way for a filter to return
// its result.
func (img *Image) WithSamples(typ PixelType, samples []float64) (*Image, error) {
	return New(img.dims, typ, img.geom, samples)
}

// Clone returns a deep copy.
func (img *Image) Clone() *Image {
	samples := make([]float64, len(img.samples))
	copy(samples, img.samples)
	dup := *img
	dup.samples = samples
	return &dup
}

// Dims returns the voxel counts along x, y, z.
func (img *Image) Dims() [3]int { return img.dims }

// NumVoxels returns the total sample count.
func (img *Image) NumVoxels() int { return len(img.samples) }

// Spacing returns the physical distance between voxel centers per axis.
func (img *Image) Spacing() [3]float64 { return img.geom.Spacing }

// Origin returns the physical position of voxel (0,0,0).
func (img *Image) Origin() [3]float64 { return img.geom.Origin }

// Direction returns the orientation matrix (rows map index axes to physical
// axes).
func (img *Image) Direction() [3][3]float64 { return img.geom.Direction }

// Geometry returns the full spatial placement.
func (img *Image) Geometry() Geometry { return img.geom }

// PixelType returns the encoding contract the samples are bound to.
func (img *Image) PixelType() PixelType { return img.pixelType }

// At returns the sample at voxel (x, y, z). Indices must be in range.
func (img *Image) At(x, y, z int) float64 {
	return img.samples[(z*img.dims[1]+y)*img.dims[0]+x]
}

// Data exposes the backing sample array in x-fastest order. Callers must
// treat it as read-only; use Clone or WithSamples to derive modified volumes.
func (img *Image) Data() []float64 { return img.samples }

// IndexToPhysical maps a continuous voxel index to a physical point.
func (img *Image) IndexToPhysical(i, j, k float64) [3]float64 {
	d := img.geom.Direction
	s := img.geom.Spacing
	si, sj, sk := i*s[0], j*s[1], k*s[2]
	return [3]float64{
		img.geom.Origin[0] + d[0][0]*si + d[0][1]*sj + d[0][2]*sk,
		img.geom.Origin[1] + d[1][0]*si + d[1][1]*sj + d[1][2]*sk,
		img.geom.Origin[2] + d[2][0]*si + d[2][1]*sj + d[2][2]*sk,
	}
}

// PhysicalToIndex maps a physical point to a continuous voxel index.
func (img *Image) PhysicalToIndex(p [3]float64) [3]float64 {
	v := [3]float64{p[0] - img.geom.Origin[0], p[1] - img.geom.Origin[1], p[2] - img.geom.Origin[2]}
	inv := img.dirInv
	return [3]float64{
		(inv[0][0]*v[0] + inv[0][1]*v[1] + inv[0][2]*v[2]) / img.geom.Spacing[0],
		(inv[1][0]*v[0] + inv[1][1]*v[1] + inv[1][2]*v[2]) / img.geom.Spacing[1],
		(inv[2][0]*v[0] + inv[2][1]*v[1] + inv[2][2]*v[2]) / img.geom.Spacing[2],
	}
}

const gridTolerance = 1e-6

// SameGrid reports whether two images share dimensions, spacing, origin, and
// orientation within a small tolerance.
func (img *Image) SameGrid(other *Image) bool {
	if img.dims != other.dims {
		return false
	}
	for a := 0; a < 3; a++ {
		if absDiff(img.geom.Spacing[a], other.geom.Spacing[a]) > gridTolerance {
			return false
		}
		if absDiff(img.geom.Origin[a], other.geom.Origin[a]) > gridTolerance {
			return false
		}
		for b := 0; b < 3; b++ {
			if absDiff(img.geom.Direction[a][b], other.geom.Direction[a][b]) > gridTolerance {
				return false
			}
		}
	}
	return true
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// MinMax returns the smallest and largest sample values.
func (img *Image) MinMax() (min, max float64) {
	min, max = img.samples[0], img.samples[0]
	for _, v := range img.samples[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
