package filters

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec names one filter and its options, as written in a preset file.
type Spec struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// Preset is a named, ordered filter pipeline loaded from YAML:
//
//	name: standard
//	filters:
//	  - name: median
//	    options: {radius: 1}
//	  - name: rescale
//	    options: {min: 0, max: 1}
type Preset struct {
	Name    string `yaml:"name"`
	Filters []Spec `yaml:"filters"`
}

// LoadPreset reads and validates a preset file.
func LoadPreset(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse preset file: %w", err)
	}
	if len(p.Filters) == 0 {
		return nil, fmt.Errorf("preset %s defines no filters", path)
	}
	return &p, nil
}

// Build turns the preset's specs into a runnable chain.
func (p *Preset) Build() (Chain, error) {
	chain := make(Chain, 0, len(p.Filters))
	for i, spec := range p.Filters {
		f, err := Build(spec.Name, spec.Options)
		if err != nil {
			return nil, fmt.Errorf("preset filter %d (%s): %w", i, spec.Name, err)
		}
		chain = append(chain, f)
	}
	return chain, nil
}

// FromSpecs builds a chain directly from specs, for callers that assemble
// their pipeline programmatically.
func FromSpecs(specs []Spec) (Chain, error) {
	p := Preset{Filters: specs}
	if len(specs) == 0 {
		return Chain{}, nil
	}
	return p.Build()
}
