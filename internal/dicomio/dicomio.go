// Package dicomio assembles a DICOM series directory into a single 3-D
// volume. Each file contributes one slice; slices are ordered along the
// scan axis and stacked into the shared Image type.
package dicomio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"brainprep/internal/imaging"
)

type sliceInfo struct {
	path      string
	rows      int
	cols      int
	series    string
	instance  int
	position  [3]float64
	hasPos    bool
	rowDir    [3]float64
	colDir    [3]float64
	hasOrient bool
	pixelDY   float64
	pixelDX   float64
	thickness float64
	samples   []float64
}

// LoadSeries reads every parseable DICOM file directly under dir and stacks
// the slices into one volume. Files that are not DICOM are skipped; the
// remaining slices must belong to a single series and share their matrix
// size.
func LoadSeries(dir string) (*imaging.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read series directory: %w", err)
	}

	var slices []sliceInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := parseSlice(filepath.Join(dir, entry.Name()))
		if err != nil {
			// Non-DICOM clutter (notes, thumbnails) is common in series
			// directories, so unparseable files are skipped.
			continue
		}
		slices = append(slices, info)
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("no DICOM slices found in %s", dir)
	}

	first := slices[0]
	for _, s := range slices[1:] {
		if s.rows != first.rows || s.cols != first.cols {
			return nil, fmt.Errorf("slice %s has matrix %dx%d, expected %dx%d",
				filepath.Base(s.path), s.cols, s.rows, first.cols, first.rows)
		}
		if s.series != first.series {
			return nil, fmt.Errorf("directory holds more than one series (%s and %s)", first.series, s.series)
		}
	}

	sortSlices(slices)

	nx, ny, nz := first.cols, first.rows, len(slices)
	samples := make([]float64, nx*ny*nz)
	for z, s := range slices {
		copy(samples[z*nx*ny:], s.samples)
	}

	geom := seriesGeometry(slices)
	return imaging.New([3]int{nx, ny, nz}, imaging.Float32, geom, samples)
}

func parseSlice(path string) (info sliceInfo, err error) {
	// The dicom helpers panic on malformed values; surface those as errors.
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("failed to parse %s: %v", filepath.Base(path), panicErr)
		}
	}()

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return info, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	info.path = path

	pixelEl, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return info, fmt.Errorf("%s has no pixel data", filepath.Base(path))
	}
	pixelInfo := dicom.MustGetPixelDataInfo(pixelEl.Value)
	if len(pixelInfo.Frames) != 1 {
		return info, fmt.Errorf("%s holds %d frames, expected one slice per file",
			filepath.Base(path), len(pixelInfo.Frames))
	}
	native, err := pixelInfo.Frames[0].GetNativeFrame()
	if err != nil {
		return info, fmt.Errorf("failed to decode pixel data in %s: %w", filepath.Base(path), err)
	}
	info.rows = native.Rows
	info.cols = native.Cols

	signed := false
	if el, err := ds.FindElementByTag(tag.PixelRepresentation); err == nil {
		signed = dicom.MustGetInts(el.Value)[0] == 1
	}
	slope, intercept := 1.0, 0.0
	if v, ok := dsFloat(ds, tag.RescaleSlope); ok {
		slope = v
	}
	if v, ok := dsFloat(ds, tag.RescaleIntercept); ok {
		intercept = v
	}

	info.samples = make([]float64, len(native.Data))
	for i, px := range native.Data {
		raw := px[0]
		if signed {
			raw = int(int16(uint16(raw)))
		}
		info.samples[i] = slope*float64(raw) + intercept
	}

	if el, err := ds.FindElementByTag(tag.SeriesInstanceUID); err == nil {
		info.series = dicom.MustGetStrings(el.Value)[0]
	}
	if el, err := ds.FindElementByTag(tag.InstanceNumber); err == nil {
		if n, convErr := strconv.Atoi(strings.TrimSpace(dicom.MustGetStrings(el.Value)[0])); convErr == nil {
			info.instance = n
		}
	}
	if vals, ok := dsFloats(ds, tag.ImagePositionPatient, 3); ok {
		copy(info.position[:], vals)
		info.hasPos = true
	}
	if vals, ok := dsFloats(ds, tag.ImageOrientationPatient, 6); ok {
		copy(info.rowDir[:], vals[:3])
		copy(info.colDir[:], vals[3:])
		info.hasOrient = true
	}
	if vals, ok := dsFloats(ds, tag.PixelSpacing, 2); ok {
		info.pixelDY, info.pixelDX = vals[0], vals[1]
	}
	if v, ok := dsFloat(ds, tag.SliceThickness); ok {
		info.thickness = v
	}
	return info, nil
}

// dsFloat reads a single decimal-string value.
func dsFloat(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	vals, ok := dsFloats(ds, t, 1)
	if !ok {
		return 0, false
	}
	return vals[0], true
}

// dsFloats reads an n-valued decimal string such as PixelSpacing or
// ImagePositionPatient.
func dsFloats(ds dicom.Dataset, t tag.Tag, n int) ([]float64, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	return parseDecimalStrings(dicom.MustGetStrings(el.Value), n)
}

func parseDecimalStrings(raw []string, n int) ([]float64, bool) {
	if len(raw) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, s := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

/// sortSlices orders slices along the scan axis: by position projected onto
// the slice normal when orientation is present, by instance number
// otherwise.
func sortSlices(slices []sliceInfo) {
	if allPositioned(slices) {
		normal := sliceNormal(slices[0])
		sort.SliceStable(slices, func(i, j int) bool {
			return dot(slices[i].position, normal) < dot(slices[j].position, normal)
		})
		return
	}
	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].instance < slices[j].instance
	})
}

func allPositioned(slices []sliceInfo) bool {
	for _, s := range slices {
		if !s.hasPos || !s.hasOrient {
			return false
		}
	}
	return true
}

func sliceNormal(s sliceInfo) [3]float64 {
	return cross(s.rowDir, s.colDir)
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// seriesGeometry derives the volume's spatial placement from the sorted
// slices, falling back to unit spacing and identity orientation when the
// series does not carry placement tags.
func seriesGeometry(slices []sliceInfo) imaging.Geometry {
	geom := imaging.DefaultGeometry()
	first := slices[0]

	if first.pixelDX > 0 {
		geom.Spacing[0] = first.pixelDX
	}
	if first.pixelDY > 0 {
		geom.Spacing[1] = first.pixelDY
	}
	geom.Spacing[2] = sliceSpacing(slices)

	if first.hasOrient {
		normal := sliceNormal(first)
		for r := 0; r < 3; r++ {
			geom.Direction[r][0] = first.rowDir[r]
			geom.Direction[r][1] = first.colDir[r]
			geom.Direction[r][2] = normal[r]
		}
	}
	if first.hasPos {
		geom.Origin = first.position
	}
	return geom
}

// sliceSpacing measures the gap between adjacent sorted slices, preferring
// measured positions over the declared SliceThickness.
func sliceSpacing(slices []sliceInfo) float64 {
	if len(slices) > 1 && allPositioned(slices) {
		normal := sliceNormal(slices[0])
		gap := math.Abs(dot(slices[1].position, normal) - dot(slices[0].position, normal))
		if gap > 0 {
			return gap
		}
	}
	if slices[0].thickness > 0 {
		return slices[0].thickness
	}
	return 1
}
