// Package loader turns collected subject files into in-memory volumes and
// enforces the encoding contract of each role: scans are bound to
// floating-point samples, label maps to unsigned integers.
package loader

import (
	"fmt"
	"math"
	"os"
	"strings"

	"brainprep/internal/dataset"
	"brainprep/internal/dicomio"
	"brainprep/internal/imaging"
	"brainprep/internal/mha"
	"brainprep/internal/niftiio"
)

// ImageDecodeError reports a file that could not be turned into a volume.
type ImageDecodeError struct {
	Subject string
	Role    dataset.Role
	Path    string
	Err     error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s volume for subject %s (%s): %v", e.Role, e.Subject, e.Path, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

// EncodingMismatchError reports a decoded volume whose samples cannot be
// losslessly bound to the encoding its role mandates.
type EncodingMismatchError struct {
	Subject string
	Role    dataset.Role
	Path    string
	Reason  string
}

func (e *EncodingMismatchError) Error() string {
	return fmt.Sprintf("%s volume for subject %s (%s) does not fit the %s encoding: %s",
		e.Role, e.Subject, e.Path, e.Role.Kind(), e.Reason)
}

// LoadRole decodes one collected file and binds it to its role's encoding.
// Directories are read as DICOM series; files dispatch on their extension.
func LoadRole(subject string, role dataset.Role, path string) (*imaging.Image, error) {
	img, err := decode(path)
	if err != nil {
		return nil, &ImageDecodeError{Subject: subject, Role: role, Path: path, Err: err}
	}
	return bindEncoding(subject, role, path, img)
}

// LoadVolume decodes a volume without binding it to a role encoding. Tools
// that only inspect or render a file use this instead of LoadRole.
func LoadVolume(path string) (*imaging.Image, error) {
	return decode(path)
}

// LoadSubject decodes every collected role of a subject. Loading stops at
// the first failure; recovery policy lives with the caller.
func LoadSubject(subject dataset.Subject) (map[dataset.Role]*imaging.Image, error) {
	images := make(map[dataset.Role]*imaging.Image, len(subject.Files.Roles()))
	for _, role := range subject.Files.Roles() {
		path, err := subject.Files.Path(role)
		if err != nil {
			return nil, err
		}
		img, err := LoadRole(subject.ID, role, path)
		if err != nil {
			return nil, err
		}
		images[role] = img
	}
	return images, nil
}

func decode(path string) (*imaging.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return dicomio.LoadSeries(path)
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".mha"), strings.HasSuffix(lower, ".mhd"):
		return mha.Load(path)
	case niftiio.Matches(path):
		return niftiio.Load(path)
	default:
		return nil, fmt.Errorf("unsupported volume format")
	}
}

// bindEncoding re-types the decoded samples to the role's mandated encoding,
// or reports why that cast would lose information.
func bindEncoding(subject string, role dataset.Role, path string, img *imaging.Image) (*imaging.Image, error) {
	if role.Kind() == dataset.KindLabel {
		return bindLabel(subject, role, path, img)
	}
	return bindIntensity(img)
}

// bindIntensity widens any integer source to float. The cast is lossless at
// the sample widths the codecs produce.
func bindIntensity(img *imaging.Image) (*imaging.Image, error) {
	if img.PixelType().IsFloat() {
		return img, nil
	}
	return img.WithSamples(imaging.Float32, img.Data())
}

// bindLabel verifies every sample is a non-negative integer and binds to the
// narrowest unsigned type that holds the label range.
func bindLabel(subject string, role dataset.Role, path string, img *imaging.Image) (*imaging.Image, error) {
	mismatch := func(reason string) error {
		return &EncodingMismatchError{Subject: subject, Role: role, Path: path, Reason: reason}
	}

	max := 0.0
	for i, v := range img.Data() {
		if v != math.Trunc(v) {
			return nil, mismatch(fmt.Sprintf("sample %d holds fractional value %g", i, v))
		}
		if v < 0 {
			return nil, mismatch(fmt.Sprintf("sample %d holds negative value %g", i, v))
		}
		if v > max {
			max = v
		}
	}
	if max > imaging.UInt16.MaxValue() {
		return nil, mismatch(fmt.Sprintf("label value %g exceeds %g", max, imaging.UInt16.MaxValue()))
	}

	typ := img.PixelType()
	if !typ.IsUnsignedInt() {
		typ = imaging.UInt16
		if max <= imaging.UInt8.MaxValue() {
			typ = imaging.UInt8
		}
	}
	if typ == img.PixelType() {
		return img, nil
	}
	return img.WithSamples(typ, img.Data())
}
