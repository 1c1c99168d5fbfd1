package preview

import (
	"math"
	"testing"

	"brainprep/internal/imaging"
)

func rampVolume(t *testing.T, dims [3]int) *imaging.Image {
	t.Helper()
	samples := make([]float64, dims[0]*dims[1]*dims[2])
	for i := range samples {
		samples[i] = float64(i)
	}
	img, err := imaging.New(dims, imaging.Float32, imaging.DefaultGeometry(), samples)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestParsePlane(t *testing.T) {
	tests := []struct {
		in      string
		want    Plane
		wantErr bool
	}{
		{"axial", Axial, false},
		{"AXIAL", Axial, false},
		{"xy", Axial, false},
		{"coronal", Coronal, false},
		{"xz", Coronal, false},
		{"sagittal", Sagittal, false},
		{"yz", Sagittal, false},
		{"oblique", Axial, true},
		{"", Axial, true},
	}

	for _, tt := range tests {
		got, err := ParsePlane(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePlane(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParsePlane(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSlicePixelsDimensions(t *testing.T) {
	img := rampVolume(t, [3]int{4, 3, 2})

	tests := []struct {
		plane Plane
		w, h  int
	}{
		{Axial, 4, 3},
		{Coronal, 4, 2},
		{Sagittal, 3, 2},
	}

	for _, tt := range tests {
		w, h, pixels, err := slicePixels(img, tt.plane, Middle)
		if err != nil {
			t.Errorf("slicePixels(%s) error = %v", tt.plane, err)
			continue
		}
		if w != tt.w || h != tt.h {
			t.Errorf("slicePixels(%s) = %dx%d, want %dx%d", tt.plane, w, h, tt.w, tt.h)
		}
		if len(pixels) != w*h {
			t.Errorf("slicePixels(%s) returned %d pixels, want %d", tt.plane, len(pixels), w*h)
		}
	}
}

func TestSlicePixelsNormalized(t *testing.T) {
	img := rampVolume(t, [3]int{4, 3, 2})

	_, _, pixels, err := slicePixels(img, Axial, 1)
	if err != nil {
		t.Fatalf("slicePixels() error = %v", err)
	}
	for i, v := range pixels {
		if v < 0 || v > 1 {
			t.Fatalf("pixel %d = %g, want within [0, 1]", i, v)
		}
	}
	// The last voxel of the volume sits in this slice and carries the
	// global maximum, so the normalized slice must reach 1.
	if got := pixels[len(pixels)-1]; got != 1 {
		t.Errorf("last pixel = %g, want 1", got)
	}
}

func TestSlicePixelsAxialLayout(t *testing.T) {
	img := rampVolume(t, [3]int{3, 2, 2})

	w, _, pixels, err := slicePixels(img, Axial, 0)
	if err != nil {
		t.Fatal(err)
	}
	// At z=0 the ramp equals the flat sample index, so row y=1, col x=2
	// holds (1*3 + 2) / max.
	lo, hi := img.MinMax()
	want := (float64(1*3+2) - lo) / (hi - lo)
	if got := pixels[1*w+2]; math.Abs(got-want) > 1e-12 {
		t.Errorf("pixel (2,1) = %g, want %g", got, want)
	}
}

func TestSlicePixelsFlatVolume(t *testing.T) {
	img, err := imaging.NewUniform([3]int{2, 2, 2}, imaging.Float32, imaging.DefaultGeometry(), 5)
	if err != nil {
		t.Fatal(err)
	}

	_, _, pixels, err := slicePixels(img, Axial, Middle)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range pixels {
		if v != 0 {
			t.Fatalf("flat volume pixel %d = %g, want 0", i, v)
		}
	}
}

func TestSlicePixelsRejectsOutOfRange(t *testing.T) {
	img := rampVolume(t, [3]int{4, 3, 2})

	if _, _, _, err := slicePixels(img, Axial, 2); err == nil {
		t.Error("expected error for axial index beyond volume")
	}
	if _, _, _, err := slicePixels(img, Sagittal, 4); err == nil {
		t.Error("expected error for sagittal index beyond volume")
	}
}
