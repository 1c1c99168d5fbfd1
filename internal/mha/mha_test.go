package mha

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"brainprep/internal/imaging"
)

func testImage(t *testing.T, typ imaging.PixelType, samples []float64) *imaging.Image {
	t.Helper()
	geom := imaging.Geometry{
		Spacing:   [3]float64{0.5, 1, 2},
		Origin:    [3]float64{-10, 4, 7},
		Direction: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
	img, err := imaging.New([3]int{3, 2, 2}, typ, geom, samples)
	if err != nil {
		t.Fatalf("failed to build test image: %v", err)
	}
	return img
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     imaging.PixelType
		samples []float64
	}{
		{"float32", imaging.Float32, []float64{0, 1.5, -2.25, 100.125, 0.5, -0.5, 3, 4, 5, 6, 7, 8}},
		{"float64", imaging.Float64, []float64{0, 1e-9, -3.75, 12345.6789, 1, 2, 3, 4, 5, 6, 7, 8}},
		{"uint8", imaging.UInt8, []float64{0, 1, 2, 255, 128, 17, 3, 4, 5, 6, 7, 8}},
		{"uint16", imaging.UInt16, []float64{0, 65535, 1000, 42, 1, 2, 3, 4, 5, 6, 7, 8}},
		{"int16", imaging.Int16, []float64{-32768, 32767, -5, 0, 1, 2, 3, 4, 5, 6, 7, 8}},
		{"int32", imaging.Int32, []float64{-100000, 100000, 0, 7, 1, 2, 3, 4, 5, 6, 7, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, compress := range []bool{false, true} {
				img := testImage(t, tt.typ, append([]float64(nil), tt.samples...))
				path := filepath.Join(t.TempDir(), "vol.mha")
				if err := Save(path, img, compress); err != nil {
					t.Fatalf("Save failed: %v", err)
				}

				got, err := Load(path)
				if err != nil {
					t.Fatalf("Load failed: %v", err)
				}
				if got.PixelType() != tt.typ {
					t.Errorf("pixel type = %s, want %s", got.PixelType(), tt.typ)
				}
				if !got.SameGrid(img) {
					t.Errorf("geometry changed across round trip")
				}
				for i, want := range tt.samples {
					if got.Data()[i] != want {
						t.Errorf("sample %d = %g, want %g (compress=%v)", i, got.Data()[i], want, compress)
					}
				}
			}
		})
	}
}

func TestLoadDetachedHeader(t *testing.T) {
	dir := t.TempDir()

	payload := make([]byte, 8*2)
	values := []uint16{10, 20, 30, 40, 50, 60, 70, 80}
	for i, v := range values {
		binary.LittleEndian.PutUint16(payload[i*2:], v)
	}
	if err := os.WriteFile(filepath.Join(dir, "volume.raw"), payload, 0o644); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	header := strings.Join([]string{
		"ObjectType = Image",
		"NDims = 3",
		"BinaryData = True",
		"BinaryDataByteOrderMSB = False",
		"DimSize = 2 2 2",
		"ElementType = MET_USHORT",
		"ElementDataFile = volume.raw",
	}, "\n") + "\n"
	hdrPath := filepath.Join(dir, "volume.mhd")
	if err := os.WriteFile(hdrPath, []byte(header), 0o644); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}

	img, err := Load(hdrPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Dims() != [3]int{2, 2, 2} {
		t.Fatalf("dims = %v, want {2 2 2}", img.Dims())
	}
	for i, v := range values {
		if img.Data()[i] != float64(v) {
			t.Errorf("sample %d = %g, want %d", i, img.Data()[i], v)
		}
	}
}

func TestReadRejectsDetachedPayload(t *testing.T) {
	header := "ObjectType = Image\nNDims = 3\nBinaryData = True\nDimSize = 1 1 1\nElementType = MET_UCHAR\nElementDataFile = volume.raw\n"
	if _, err := Read(strings.NewReader(header)); err == nil {
		t.Fatal("expected an error for a detached payload read from a stream")
	}
}

func TestReadBigEndian(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ObjectType = Image\n")
	buf.WriteString("NDims = 3\n")
	buf.WriteString("BinaryData = True\n")
	buf.WriteString("BinaryDataByteOrderMSB = True\n")
	buf.WriteString("DimSize = 2 1 1\n")
	buf.WriteString("ElementType = MET_USHORT\n")
	buf.WriteString("ElementDataFile = LOCAL\n")
	buf.Write([]byte{0x01, 0x02, 0x03, 0x04})

	img, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if img.Data()[0] != 258 || img.Data()[1] != 772 {
		t.Errorf("samples = %v, want [258 772]", img.Data())
	}
}

func TestReadAppliesGeometry(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ObjectType = Image\n")
	buf.WriteString("NDims = 3\n")
	buf.WriteString("BinaryData = True\n")
	buf.WriteString("TransformMatrix = 0 -1 0 1 0 0 0 0 1\n")
	buf.WriteString("Offset = 1 2 3\n")
	buf.WriteString("ElementSpacing = 0.5 0.5 2\n")
	buf.WriteString("DimSize = 1 1 1\n")
	buf.WriteString("ElementType = MET_UCHAR\n")
	buf.WriteString("ElementDataFile = LOCAL\n")
	buf.WriteByte(9)

	img, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if img.Spacing() != [3]float64{0.5, 0.5, 2} {
		t.Errorf("spacing = %v", img.Spacing())
	}
	if img.Origin() != [3]float64{1, 2, 3} {
		t.Errorf("origin = %v", img.Origin())
	}
	want := [3][3]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}
	if img.Direction() != want {
		t.Errorf("direction = %v, want %v", img.Direction(), want)
	}
	if img.Data()[0] != 9 {
		t.Errorf("sample = %g, want 9", img.Data()[0])
	}
}

func TestReadRejectsMalformed(t *testing.T) {
	valid := func(lines ...string) string {
		return strings.Join(lines, "\n") + "\n"
	}

	tests := []struct {
		name  string
		input string
	}{
		{
			"wrong ndims",
			valid("ObjectType = Image", "NDims = 2", "BinaryData = True",
				"DimSize = 1 1 1", "ElementType = MET_UCHAR", "ElementDataFile = LOCAL"),
		},
		{
			"ascii data",
			valid("ObjectType = Image", "NDims = 3", "BinaryData = False",
				"DimSize = 1 1 1", "ElementType = MET_UCHAR", "ElementDataFile = LOCAL"),
		},
		{
			"unknown element type",
			valid("ObjectType = Image", "NDims = 3", "BinaryData = True",
				"DimSize = 1 1 1", "ElementType = MET_COMPLEX", "ElementDataFile = LOCAL"),
		},
		{
			"missing dims",
			valid("ObjectType = Image", "NDims = 3", "BinaryData = True",
				"ElementType = MET_UCHAR", "ElementDataFile = LOCAL"),
		},
		{
			"negative dim",
			valid("ObjectType = Image", "NDims = 3", "BinaryData = True",
				"DimSize = 2 -1 2", "ElementType = MET_UCHAR", "ElementDataFile = LOCAL"),
		},
		{
			"multichannel",
			valid("ObjectType = Image", "NDims = 3", "BinaryData = True",
				"ElementNumberOfChannels = 3", "DimSize = 1 1 1",
				"ElementType = MET_UCHAR", "ElementDataFile = LOCAL"),
		},
		{
			"no data file key",
			valid("ObjectType = Image", "NDims = 3", "BinaryData = True",
				"DimSize = 1 1 1", "ElementType = MET_UCHAR"),
		},
		{
			"garbage line",
			valid("ObjectType = Image", "this line has no separator",
				"ElementDataFile = LOCAL"),
		},
		{
			"wrong object type",
			valid("ObjectType = Mesh", "NDims = 3", "BinaryData = True",
				"DimSize = 1 1 1", "ElementType = MET_UCHAR", "ElementDataFile = LOCAL"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input)); err == nil {
				t.Error("expected an error, got none")
			}
		})
	}
}

func TestReadRejectsTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ObjectType = Image\n")
	buf.WriteString("NDims = 3\n")
	buf.WriteString("BinaryData = True\n")
	buf.WriteString("DimSize = 4 4 4\n")
	buf.WriteString("ElementType = MET_FLOAT\n")
	buf.WriteString("ElementDataFile = LOCAL\n")
	buf.Write(make([]byte, 10))

	if _, err := Read(&buf); err == nil {
		t.Fatal("expected an error for a truncated payload")
	}
}

func TestWriteFloat32Precision(t *testing.T) {
	samples := make([]float64, 12)
	for i := range samples {
		samples[i] = float64(float32(math.Sqrt(float64(i + 1))))
	}
	img := testImage(t, imaging.Float32, samples)

	var buf bytes.Buffer
	if err := Write(&buf, img, false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, want := range samples {
		if got.Data()[i] != want {
			t.Errorf("sample %d = %g, want %g", i, got.Data()[i], want)
		}
	}
}
