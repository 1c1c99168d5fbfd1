// Package preview renders slices of a volume as PNG images for quick
// visual inspection of pipeline outputs.
package preview

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/gographics/imagick.v3/imagick"

	"brainprep/internal/imaging"
)

// Middle selects the center slice of the chosen plane.
const Middle = -1

// Plane selects the anatomical plane a slice is taken from.
type Plane int

const (
	Axial    Plane = iota // xy plane at a fixed z
	Coronal               // xz plane at a fixed y
	Sagittal              // yz plane at a fixed x
)

func (p Plane) String() string {
	switch p {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	}
	return "unknown"
}

// ParsePlane maps a user-facing plane name to a Plane.
func ParsePlane(s string) (Plane, error) {
	switch strings.ToLower(s) {
	case "axial", "xy":
		return Axial, nil
	case "coronal", "xz":
		return Coronal, nil
	case "sagittal", "yz":
		return Sagittal, nil
	}
	return Axial, fmt.Errorf("unknown plane %q (use axial, coronal or sagittal)", s)
}

// SavePNG writes one slice of img as a 16-bit grayscale PNG. index
// counts slices along the plane normal; Middle picks the center.
func SavePNG(img *imaging.Image, plane Plane, index int, path string) error {
	w, h, pixels, err := slicePixels(img, plane, index)
	if err != nil {
		return err
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ConstituteImage(uint(w), uint(h), "I", imagick.PIXEL_FLOAT, pixels); err != nil {
		return fmt.Errorf("failed to create slice image: %v", err)
	}
	mw.SetImageFormat("PNG")
	mw.SetImageDepth(16)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := mw.WriteImage(path); err != nil {
		return fmt.Errorf("failed to write preview: %v", err)
	}
	return nil
}

// SaveAll writes the middle axial, coronal and sagittal slices into
// dir, named <base>_<plane>.png, and returns the written paths.
func SaveAll(img *imaging.Image, dir, base string) ([]string, error) {
	var out []string
	for _, plane := range []Plane{Axial, Coronal, Sagittal} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", base, plane))
		if err := SavePNG(img, plane, Middle, path); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

// slicePixels extracts one slice as row-major intensities normalized to
// [0, 1] against the whole volume's range.
func slicePixels(img *imaging.Image, plane Plane, index int) (int, int, []float64, error) {
	dims := img.Dims()

	var w, h, depth int
	switch plane {
	case Axial:
		w, h, depth = dims[0], dims[1], dims[2]
	case Coronal:
		w, h, depth = dims[0], dims[2], dims[1]
	case Sagittal:
		w, h, depth = dims[1], dims[2], dims[0]
	default:
		return 0, 0, nil, fmt.Errorf("unknown plane %d", plane)
	}

	if index < 0 {
		index = depth / 2
	}
	if index >= depth {
		return 0, 0, nil, fmt.Errorf("slice index %d out of range for %s plane (%d slices)", index, plane, depth)
	}

	lo, hi := img.MinMax()
	scale := 0.0
	if hi > lo {
		scale = 1 / (hi - lo)
	}

	pixels := make([]float64, w*h)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			var v float64
			switch plane {
			case Axial:
				v = img.At(col, row, index)
			case Coronal:
				v = img.At(col, index, row)
			case Sagittal:
				v = img.At(index, col, row)
			}
			pixels[row*w+col] = (v - lo) * scale
		}
	}

	return w, h, pixels, nil
}
