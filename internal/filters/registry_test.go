package filters

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"brainprep/internal/imaging"
)

func TestBuildWithOptions(t *testing.T) {
	img := volume(t, [3]int{3, 1, 1}, imaging.Float32, []float64{0, 50, 100})

	f, err := Build("rescale", map[string]any{"min": 0, "max": 10.0})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	out, err := f.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if lo, hi := out.MinMax(); lo != 0 || hi != 10 {
		t.Errorf("range = [%g, %g], want [0, 10]", lo, hi)
	}
}

func TestBuildDefaults(t *testing.T) {
	f, err := Build("rescale", nil)
	if err != nil {
		t.Fatalf("Build(rescale) failed: %v", err)
	}
	if r, ok := f.(Rescale); !ok || r.Min != 0 || r.Max != 1 {
		t.Errorf("rescale defaults = %+v", f)
	}

	f, err = Build("median", nil)
	if err != nil {
		t.Fatalf("Build(median) failed: %v", err)
	}
	if m, ok := f.(Median); !ok || m.Radius != 1 {
		t.Errorf("median defaults = %+v", f)
	}
}

func TestBuildRejectsBadInputs(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		options map[string]any
	}{
		{"unknown filter", "sharpen", nil},
		{"inverted range", "rescale", map[string]any{"min": 2, "max": 1}},
		{"missing sigma", "gaussian", nil},
		{"negative sigma", "gaussian", map[string]any{"sigma": -2.0}},
		{"missing size", "resample", nil},
		{"short size", "resample", map[string]any{"size": []any{2, 2}}},
		{"fractional size", "resample", map[string]any{"size": []any{2.5, 2, 2}}},
		{"bad interpolation", "resample", map[string]any{"size": []any{2, 2, 2}, "interpolation": "cubic"}},
		{"zero radius", "median", map[string]any{"radius": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.filter, tt.options); err == nil {
				t.Errorf("Build(%q, %v) succeeded, expected an error", tt.filter, tt.options)
			}
		})
	}
}

func TestBuildReportsInvalidRange(t *testing.T) {
	_, err := Build("rescale", map[string]any{"min": 5, "max": 5})
	var rangeErr *InvalidRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("error = %v, want InvalidRangeError", err)
	}
}

type invertFilter struct{}

func (invertFilter) Name() string { return "invert" }

func (invertFilter) Apply(img *imaging.Image) (*imaging.Image, error) {
	_, hi := img.MinMax()
	out := make([]float64, img.NumVoxels())
	for i, v := range img.Data() {
		out[i] = hi - v
	}
	return img.WithSamples(img.PixelType(), out)
}

func TestRegisterCustomFilter(t *testing.T) {
	Register("invert", func(options map[string]any) (Filter, error) {
		return invertFilter{}, nil
	})

	f, err := Build("invert", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	img := volume(t, [3]int{2, 1, 1}, imaging.Float32, []float64{1, 4})
	out, err := f.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.Data()[0] != 3 || out.Data()[1] != 0 {
		t.Errorf("inverted = %v, want [3 0]", out.Data())
	}
}

func TestNamesAreSorted(t *testing.T) {
	names := Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
	found := false
	for _, name := range names {
		if name == "rescale" {
			found = true
		}
	}
	if !found {
		t.Error("rescale missing from registry names")
	}
}

func TestLoadPresetAndBuild(t *testing.T) {
	preset := `name: standard
filters:
  - name: median
    options:
      radius: 1
  - name: rescale
    options:
      min: 0
      max: 1
`
	path := filepath.Join(t.TempDir(), "standard.yaml")
	if err := os.WriteFile(path, []byte(preset), 0o644); err != nil {
		t.Fatalf("failed to write preset: %v", err)
	}

	p, err := LoadPreset(path)
	if err != nil {
		t.Fatalf("LoadPreset failed: %v", err)
	}
	if p.Name != "standard" || len(p.Filters) != 2 {
		t.Fatalf("preset = %+v", p)
	}

	chain, err := p.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	img := volume(t, [3]int{3, 3, 3}, imaging.Float32, blobSamples(27))
	out, err := chain.Apply(img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if lo, hi := out.MinMax(); lo < 0 || hi > 1 {
		t.Errorf("range = [%g, %g], want within [0, 1]", lo, hi)
	}
}

func blobSamples(n int) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = float64((i * 37) % 211)
	}
	return samples
}

func TestLoadPresetErrors(t *testing.T) {
	if _, err := LoadPreset(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing preset")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("name: empty\nfilters: []\n"), 0o644); err != nil {
		t.Fatalf("failed to write preset: %v", err)
	}
	if _, err := LoadPreset(empty); err == nil {
		t.Error("expected an error for a preset with no filters")
	}

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(broken, []byte("filters: {not a list"), 0o644); err != nil {
		t.Fatalf("failed to write preset: %v", err)
	}
	if _, err := LoadPreset(broken); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestFromSpecs(t *testing.T) {
	chain, err := FromSpecs([]Spec{
		{Name: "rescale", Options: map[string]any{"min": 0, "max": 1}},
	})
	if err != nil {
		t.Fatalf("FromSpecs failed: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("chain length = %d, want 1", len(chain))
	}

	empty, err := FromSpecs(nil)
	if err != nil {
		t.Fatalf("FromSpecs(nil) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty specs produced %d filters", len(empty))
	}

	if _, err := FromSpecs([]Spec{{Name: "nope"}}); err == nil {
		t.Error("expected an error for an unknown filter")
	}
}
