package filters

import (
	"errors"
	"math"
	"testing"

	"brainprep/internal/imaging"
	"brainprep/internal/registration"
)

func volume(t *testing.T, dims [3]int, typ imaging.PixelType, samples []float64) *imaging.Image {
	t.Helper()
	img, err := imaging.New(dims, typ, imaging.DefaultGeometry(), samples)
	if err != nil {
		t.Fatalf("failed to build volume: %v", err)
	}
	return img
}

func TestRescaleMapsLinearly(t *testing.T) {
	img := volume(t, [3]int{4, 1, 1}, imaging.Float32, []float64{10, 200, 105, 10})

	out, err := Rescale{Min: 0, Max: 1}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []float64{0, 1, 0.5, 0}
	for i := range want {
		if math.Abs(out.Data()[i]-want[i]) > 1e-12 {
			t.Errorf("sample %d = %g, want %g", i, out.Data()[i], want[i])
		}
	}
	lo, hi := out.MinMax()
	if lo != 0 || hi != 1 {
		t.Errorf("output range [%g, %g], want [0, 1]", lo, hi)
	}
}

func TestRescaleLeavesInputUntouched(t *testing.T) {
	samples := []float64{10, 200, 105, 10}
	img := volume(t, [3]int{4, 1, 1}, imaging.Float32, samples)

	if _, err := (Rescale{Min: 0, Max: 1}).Apply(img); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []float64{10, 200, 105, 10}
	for i := range want {
		if img.Data()[i] != want[i] {
			t.Fatalf("input mutated: %v", img.Data())
		}
	}
}

func TestRescaleRejectsInvalidRange(t *testing.T) {
	img := volume(t, [3]int{2, 1, 1}, imaging.Float32, []float64{1, 2})

	for _, f := range []Rescale{{Min: 1, Max: 1}, {Min: 2, Max: -2}} {
		_, err := f.Apply(img)
		var rangeErr *InvalidRangeError
		if !errors.As(err, &rangeErr) {
			t.Fatalf("Apply(%+v) error = %v, want InvalidRangeError", f, err)
		}
		if rangeErr.Min != f.Min || rangeErr.Max != f.Max {
			t.Errorf("error range = [%g, %g], want [%g, %g]", rangeErr.Min, rangeErr.Max, f.Min, f.Max)
		}
	}
}

func TestRescaleFlatVolume(t *testing.T) {
	img := volume(t, [3]int{3, 1, 1}, imaging.Float32, []float64{7, 7, 7})

	out, err := Rescale{Min: -1, Max: 1}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for i, v := range out.Data() {
		if v != -1 {
			t.Errorf("sample %d = %g, want -1", i, v)
		}
	}
}

func TestRescaleWidensIntegerInput(t *testing.T) {
	img := volume(t, [3]int{2, 1, 1}, imaging.UInt8, []float64{0, 200})

	out, err := Rescale{Min: 0, Max: 1}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.PixelType() != imaging.Float32 {
		t.Errorf("pixel type = %s, want float32", out.PixelType())
	}
}

func TestMedianRemovesSpike(t *testing.T) {
	samples := make([]float64, 27)
	for i := range samples {
		samples[i] = 5
	}
	samples[(1*3+1)*3+1] = 100
	img := volume(t, [3]int{3, 3, 3}, imaging.Float32, samples)

	out, err := Median{Radius: 1}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for i, v := range out.Data() {
		if v != 5 {
			t.Errorf("sample %d = %g, want 5", i, v)
		}
	}
}

func TestMedianIdempotentOnFlatRegions(t *testing.T) {
	img := volume(t, [3]int{4, 4, 4}, imaging.Float32, make([]float64, 64))

	once, err := Median{Radius: 1}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	twice, err := Median{Radius: 1}.Apply(once)
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	for i := range once.Data() {
		if once.Data()[i] != twice.Data()[i] {
			t.Fatalf("median is not idempotent on a flat volume at sample %d", i)
		}
	}
}

func TestMedianPreservesLabelType(t *testing.T) {
	img := volume(t, [3]int{3, 3, 1}, imaging.UInt8, []float64{0, 0, 1, 0, 1, 1, 1, 1, 1})

	out, err := Median{Radius: 1}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.PixelType() != imaging.UInt8 {
		t.Errorf("pixel type = %s, want uint8", out.PixelType())
	}
	for i, v := range out.Data() {
		if v != 0 && v != 1 {
			t.Errorf("sample %d = %g, not an input label", i, v)
		}
	}
}

func TestMedianRejectsBadRadius(t *testing.T) {
	img := volume(t, [3]int{2, 1, 1}, imaging.Float32, []float64{1, 2})
	if _, err := (Median{Radius: 0}).Apply(img); err == nil {
		t.Fatal("expected an error for radius 0")
	}
}

func TestGaussianPreservesFlatVolume(t *testing.T) {
	samples := make([]float64, 4*4*4)
	for i := range samples {
		samples[i] = 3
	}
	img := volume(t, [3]int{4, 4, 4}, imaging.Float32, samples)

	out, err := Gaussian{Sigma: 1}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for i, v := range out.Data() {
		if math.Abs(v-3) > 1e-9 {
			t.Errorf("sample %d = %g, want 3", i, v)
		}
	}
}

func TestGaussianSmoothsSpike(t *testing.T) {
	samples := make([]float64, 9)
	samples[4] = 100
	img := volume(t, [3]int{9, 1, 1}, imaging.Float32, samples)

	out, err := Gaussian{Sigma: 1}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.Data()[4] >= 100 {
		t.Errorf("center = %g, expected smoothing below 100", out.Data()[4])
	}
	if out.Data()[3] <= 0 || out.Data()[5] <= 0 {
		t.Errorf("neighbors = %g, %g, expected spread above 0", out.Data()[3], out.Data()[5])
	}
	var sum float64
	for _, v := range out.Data() {
		sum += v
	}
	if math.Abs(sum-100) > 1e-6 {
		t.Errorf("total intensity = %g, want about 100", sum)
	}
}

func TestGaussianRejectsBadSigma(t *testing.T) {
	img := volume(t, [3]int{2, 1, 1}, imaging.Float32, []float64{1, 2})
	for _, sigma := range []float64{0, -1} {
		if _, err := (Gaussian{Sigma: sigma}).Apply(img); err == nil {
			t.Errorf("expected an error for sigma %g", sigma)
		}
	}
}

func TestSkullStripZeroesOutsideMask(t *testing.T) {
	img := volume(t, [3]int{4, 1, 1}, imaging.Float32, []float64{10, 20, 30, 40})
	mask := volume(t, [3]int{4, 1, 1}, imaging.UInt8, []float64{1, 0, 1, 0})

	out, err := SkullStrip{Mask: mask}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []float64{10, 0, 30, 0}
	for i := range want {
		if out.Data()[i] != want[i] {
			t.Errorf("sample %d = %g, want %g", i, out.Data()[i], want[i])
		}
	}
}

func TestSkullStripValidatesMask(t *testing.T) {
	img := volume(t, [3]int{4, 1, 1}, imaging.Float32, []float64{1, 2, 3, 4})

	if _, err := (SkullStrip{}).Apply(img); err == nil {
		t.Error("expected an error for a missing mask")
	}

	small := volume(t, [3]int{2, 1, 1}, imaging.UInt8, []float64{1, 1})
	if _, err := (SkullStrip{Mask: small}).Apply(img); err == nil {
		t.Error("expected an error for a mask on a different grid")
	}
}

func TestResamplePreservesExtent(t *testing.T) {
	samples := make([]float64, 4*4*4)
	for i := range samples {
		samples[i] = 7
	}
	img := volume(t, [3]int{4, 4, 4}, imaging.Float32, samples)

	out, err := Resample{Size: [3]int{2, 2, 2}}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.Dims() != [3]int{2, 2, 2} {
		t.Fatalf("dims = %v, want {2 2 2}", out.Dims())
	}
	if out.Spacing() != [3]float64{2, 2, 2} {
		t.Errorf("spacing = %v, want {2 2 2}", out.Spacing())
	}
	if out.Origin() != [3]float64{0.5, 0.5, 0.5} {
		t.Errorf("origin = %v, want {0.5 0.5 0.5}", out.Origin())
	}
	for i, v := range out.Data() {
		if math.Abs(v-7) > 1e-9 {
			t.Errorf("sample %d = %g, want 7", i, v)
		}
	}
}

func TestResampleNearestOnLabels(t *testing.T) {
	samples := make([]float64, 4*4*4)
	for i := range samples {
		if i%3 == 0 {
			samples[i] = 3
		}
	}
	img := volume(t, [3]int{4, 4, 4}, imaging.UInt8, samples)

	out, err := Resample{Size: [3]int{3, 3, 3}, Interpolation: registration.NearestNeighbor}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.PixelType() != imaging.UInt8 {
		t.Errorf("pixel type = %s, want uint8", out.PixelType())
	}
	for i, v := range out.Data() {
		if v != 0 && v != 3 {
			t.Errorf("sample %d = %g, not an input label", i, v)
		}
	}
}

func TestResampleRejectsBadSize(t *testing.T) {
	img := volume(t, [3]int{2, 2, 2}, imaging.Float32, make([]float64, 8))
	if _, err := (Resample{Size: [3]int{2, 0, 2}}).Apply(img); err == nil {
		t.Fatal("expected an error for a zero dimension")
	}
}

func TestChainAppliesInOrder(t *testing.T) {
	img := volume(t, [3]int{4, 1, 1}, imaging.Float32, []float64{0, 1, 2, 3})

	chain := Chain{
		Rescale{Min: 0, Max: 3},
		Rescale{Min: 1, Max: 2},
	}
	out, err := chain.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	lo, hi := out.MinMax()
	if lo != 1 || hi != 2 {
		t.Errorf("range = [%g, %g], want [1, 2]", lo, hi)
	}
}

func TestChainEmptyPassesThrough(t *testing.T) {
	img := volume(t, [3]int{2, 1, 1}, imaging.Float32, []float64{1, 2})
	out, err := Chain{}.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out != img {
		t.Error("empty chain should return its input")
	}
}

func TestChainStopsOnFirstError(t *testing.T) {
	img := volume(t, [3]int{2, 1, 1}, imaging.Float32, []float64{1, 2})
	chain := Chain{Rescale{Min: 5, Max: 5}, Median{Radius: 1}}
	if _, err := chain.Apply(img); err == nil {
		t.Fatal("expected the invalid rescale range to surface")
	}
}
