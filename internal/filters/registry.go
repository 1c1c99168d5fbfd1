package filters

import (
	"fmt"
	"sort"

	"brainprep/internal/registration"
)

// factory builds a filter from loosely typed options as they arrive from
// YAML presets or job submissions.
type factory func(options map[string]any) (Filter, error)

var registry = map[string]factory{
	"rescale":  buildRescale,
	"median":   buildMedian,
	"gaussian": buildGaussian,
	"resample": buildResample,
}

// Register adds a filter factory under a name. Registration is not safe for
// concurrent use; call it during setup.
func Register(name string, f factory) {
	registry[name] = f
}

// Names lists the buildable filter names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a registered filter from its options.
func Build(name string, options map[string]any) (Filter, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown filter %q (available: %v)", name, Names())
	}
	return f(options)
}

func buildRescale(options map[string]any) (Filter, error) {
	lo, ok := floatOption(options, "min")
	if !ok {
		lo = 0
	}
	hi, ok := floatOption(options, "max")
	if !ok {
		hi = 1
	}
	if lo >= hi {
		return nil, &InvalidRangeError{Min: lo, Max: hi}
	}
	return Rescale{Min: lo, Max: hi}, nil
}

func buildMedian(options map[string]any) (Filter, error) {
	radius, ok := intOption(options, "radius")
	if !ok {
		radius = 1
	}
	if radius < 1 {
		return nil, fmt.Errorf("median radius must be at least 1, got %d", radius)
	}
	return Median{Radius: radius}, nil
}

func buildGaussian(options map[string]any) (Filter, error) {
	sigma, ok := floatOption(options, "sigma")
	if !ok {
		return nil, fmt.Errorf("gaussian requires a sigma option")
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("gaussian sigma must be positive, got %g", sigma)
	}
	return Gaussian{Sigma: sigma}, nil
}

func buildResample(options map[string]any) (Filter, error) {
	size, ok := sizeOption(options, "size")
	if !ok {
		return nil, fmt.Errorf("resample requires a size option of three positive integers")
	}
	interp := registration.Linear
	if s, ok := stringOption(options, "interpolation"); ok {
		var err error
		interp, err = registration.ParseInterpolation(s)
		if err != nil {
			return nil, err
		}
	}
	return Resample{Size: size, Interpolation: interp}, nil
}

func floatOption(options map[string]any, key string) (float64, bool) {
	if options == nil {
		return 0, false
	}
	switch v := options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func intOption(options map[string]any, key string) (int, bool) {
	if options == nil {
		return 0, false
	}
	switch v := options[key].(type) {
	case int:
		return v, true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func stringOption(options map[string]any, key string) (string, bool) {
	if options == nil {
		return "", false
	}
	s, ok := options[key].(string)
	return s, ok
}

func sizeOption(options map[string]any, key string) ([3]int, bool) {
	if options == nil {
		return [3]int{}, false
	}
	list, ok := options[key].([]any)
	if !ok || len(list) != 3 {
		return [3]int{}, false
	}
	var size [3]int
	for i, item := range list {
		switch v := item.(type) {
		case int:
			size[i] = v
		case float64:
			if v != float64(int(v)) {
				return [3]int{}, false
			}
			size[i] = int(v)
		default:
			return [3]int{}, false
		}
		if size[i] <= 0 {
			return [3]int{}, false
		}
	}
	return size, true
}
