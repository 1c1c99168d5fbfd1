package filters

import (
	"brainprep/internal/imaging"
)

// Chain applies its filters in order, feeding each output into the next.
// An empty chain passes the volume through unchanged.
type Chain []Filter

func (c Chain) Name() string { return "chain" }

func (c Chain) Apply(img *imaging.Image) (*imaging.Image, error) {
	current := img
	for _, f := range c {
		next, err := f.Apply(current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}
