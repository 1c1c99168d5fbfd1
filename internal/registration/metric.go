package registration

import (
	"fmt"
	"math"

	"brainprep/internal/imaging"
)

// Supported similarity metrics. Both are minimized; mean squares is the
// stock choice, mean absolute difference is less sensitive to intensity
// outliers.
const (
	MetricMeanSquares  = "mean_squares"
	MetricMeanAbsolute = "mean_absolute"
)

type metricFunc func(fixed *imaging.Image, src *sampler, stride int) float64

func metricByName(name string) (metricFunc, error) {
	switch name {
	case "", MetricMeanSquares:
		return meanSquares, nil
	case MetricMeanAbsolute:
		return meanAbsolute, nil
	default:
		return nil, fmt.Errorf("unsupported metric %q", name)
	}
}

// meanSquares averages the squared intensity difference over a strided
// subset of the fixed grid, sampling the moving volume trilinearly.
func meanSquares(fixed *imaging.Image, src *sampler, stride int) float64 {
	var sum float64
	n := 0
	dims := fixed.Dims()
	for z := 0; z < dims[2]; z += stride {
		for y := 0; y < dims[1]; y += stride {
			for x := 0; x < dims[0]; x += stride {
				p := fixed.IndexToPhysical(float64(x), float64(y), float64(z))
				d := fixed.At(x, y, z) - src.at(p, Linear)
				sum += d * d
				n++
			}
		}
	}
	return sum / float64(n)
}

func meanAbsolute(fixed *imaging.Image, src *sampler, stride int) float64 {
	var sum float64
	n := 0
	dims := fixed.Dims()
	for z := 0; z < dims[2]; z += stride {
		for y := 0; y < dims[1]; y += stride {
			for x := 0; x < dims[0]; x += stride {
				p := fixed.IndexToPhysical(float64(x), float64(y), float64(z))
				sum += math.Abs(fixed.At(x, y, z) - src.at(p, Linear))
				n++
			}
		}
	}
	return sum / float64(n)
}
