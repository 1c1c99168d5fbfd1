package registration

import (
	"fmt"

	"gonum.org/v1/gonum/optimize"

	"brainprep/internal/imaging"
)

// RegistrationDivergedError reports an optimization that exhausted its
// budget without the similarity metric settling.
type RegistrationDivergedError struct {
	Iterations  int
	Evaluations int
	Metric      float64
}

func (e *RegistrationDivergedError) Error() string {
	return fmt.Sprintf("registration exhausted its budget after %d iterations (%d evaluations, metric %.6g)",
		e.Iterations, e.Evaluations, e.Metric)
}

// Params tune the optimizer. Zero values fall back to the defaults.
type Params struct {
	// Metric names the similarity measure to minimize.
	Metric string
	// MaxIterations bounds the optimizer's major iterations; exceeding it
	// surfaces as a RegistrationDivergedError.
	MaxIterations int
	// Tolerance is the absolute metric change under which the optimizer is
	// considered settled.
	Tolerance float64
	// SampleStride evaluates the metric on every stride-th voxel per axis.
	SampleStride int
	// SimplexSize scales the optimizer's initial parameter steps.
	SimplexSize float64
}

const (
	defaultMaxIterations = 300
	defaultTolerance     = 1e-8
	defaultSampleStride  = 2
	defaultSimplexSize   = 0.5
	convergeWindow       = 15
)

func (p Params) withDefaults() Params {
	if p.MaxIterations <= 0 {
		p.MaxIterations = defaultMaxIterations
	}
	if p.Tolerance <= 0 {
		p.Tolerance = defaultTolerance
	}
	if p.SampleStride <= 0 {
		p.SampleStride = defaultSampleStride
	}
	if p.SimplexSize <= 0 {
		p.SimplexSize = defaultSimplexSize
	}
	return p
}

// Result carries the aligned scan and how the optimizer got there.
type Result struct {
	Transform   RigidTransform
	Image       *imaging.Image
	Metric      float64
	Iterations  int
	Evaluations int
}

// Register finds the rigid transform that aligns the moving scan onto the
// fixed reference, then resamples the scan onto the reference grid. The
// transform maps fixed-space points into the moving volume; apply it with
// Resample to carry companion label maps onto the same grid.
func Register(fixed, moving *imaging.Image, p Params) (*Result, error) {
	p = p.withDefaults()
	metric, err := metricByName(p.Metric)
	if err != nil {
		return nil, err
	}

	center := volumeCenter(fixed)
	objective := func(x []float64) float64 {
		src := newSampler(moving, transformFromVector(x, center))
		return metric(fixed, src, p.SampleStride)
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: p.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   p.Tolerance,
			Iterations: convergeWindow,
		},
	}
	method := &optimize.NelderMead{SimplexSize: p.SimplexSize}

	res, err := optimize.Minimize(problem, make([]float64, 6), settings, method)
	if res == nil {
		return nil, fmt.Errorf("optimizer failed: %w", err)
	}
	switch res.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return nil, &RegistrationDivergedError{
			Iterations:  res.MajorIterations,
			Evaluations: res.FuncEvaluations,
			Metric:      res.F,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("optimizer failed: %w", err)
	}

	transform := transformFromVector(res.X, center)
	aligned, err := Resample(moving, fixed, transform, Linear)
	if err != nil {
		return nil, err
	}

	return &Result{
		Transform:   transform,
		Image:       aligned,
		Metric:      res.F,
		Iterations:  res.MajorIterations,
		Evaluations: res.FuncEvaluations,
	}, nil
}

// transformFromVector unpacks the optimizer's parameter vector: three Euler
// angles followed by three translations, rotating about the fixed volume's
// center.
func transformFromVector(x []float64, center [3]float64) RigidTransform {
	return RigidTransform{
		Rotation:    [3]float64{x[0], x[1], x[2]},
		Translation: [3]float64{x[3], x[4], x[5]},
		Center:      center,
	}
}

func volumeCenter(img *imaging.Image) [3]float64 {
	dims := img.Dims()
	return img.IndexToPhysical(
		float64(dims[0]-1)/2,
		float64(dims[1]-1)/2,
		float64(dims[2]-1)/2,
	)
}
