// Package pipeline drives subjects through the preprocessing stages in
// order: collect, load, register, filter, save. Subjects are processed
// one at a time; a failing subject is recorded and skipped so the rest
// of the batch still runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"brainprep/internal/dataset"
	"brainprep/internal/filters"
	"brainprep/internal/imaging"
	"brainprep/internal/loader"
	"brainprep/internal/logging"
	"brainprep/internal/mha"
	"brainprep/internal/registration"
)

// Stage names a step of the per-subject pipeline.
type Stage string

const (
	StageCollect  Stage = "collect"
	StageLoad     Stage = "load"
	StageRegister Stage = "register"
	StageFilter   Stage = "filter"
	StageSave     Stage = "save"
)

// StageError records which subject failed, at which stage, and why.
type StageError struct {
	Subject string
	Stage   Stage
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("subject %s failed at %s: %v", e.Subject, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options configures a Runner.
type Options struct {
	AtlasPath     string
	OutputDir     string
	Filters       filters.Chain
	Registration  registration.Params
	SkullStrip    bool
	SaveTransform bool
	Compress      bool
}

// SubjectResult captures the outcome of one subject run.
type SubjectResult struct {
	Subject       string
	Outputs       map[dataset.Role]string
	TransformPath string
	Metric        float64
	Iterations    int
	Duration      time.Duration
	Err           error
}

// BatchSummary aggregates the results of a batch run.
type BatchSummary struct {
	RunID     string
	Processed int
	Failed    int
	Results   []SubjectResult
	Duration  time.Duration
}

// Runner executes the pipeline for subjects against a fixed atlas.
type Runner struct {
	log   *slog.Logger
	opts  Options
	atlas *imaging.Image
}

// NewRunner loads the atlas and returns a Runner ready to process
// subjects. The atlas is decoded once and reused for every subject.
func NewRunner(logger *slog.Logger, opts Options) (*Runner, error) {
	if opts.AtlasPath == "" {
		return nil, errors.New("atlas path is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}

	atlas, err := loader.LoadRole("atlas", dataset.RoleT1, opts.AtlasPath)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{log: logger, opts: opts, atlas: atlas}, nil
}

// Atlas returns the reference volume subjects are registered onto.
func (r *Runner) Atlas() *imaging.Image { return r.atlas }

// ProcessSubject runs a collected subject through load, register,
// filter and save. Every error is wrapped in a StageError carrying the
// subject and the stage that failed.
func (r *Runner) ProcessSubject(ctx context.Context, subject dataset.Subject) SubjectResult {
	start := time.Now()
	res := SubjectResult{
		Subject: subject.ID,
		Outputs: make(map[dataset.Role]string),
	}

	// Load every collected role into memory.
	if err := ctx.Err(); err != nil {
		return r.fail(res, start, StageLoad, err)
	}
	logging.LogStageStart(r.log, subject.ID, string(StageLoad))
	loadStart := time.Now()
	volumes, err := loader.LoadSubject(subject)
	if err != nil {
		return r.fail(res, start, StageLoad, err)
	}
	logging.LogStageComplete(r.log, subject.ID, string(StageLoad), time.Since(loadStart), map[string]any{
		"volumes": len(volumes),
	})

	// Register the driving scan onto the atlas, then carry every other
	// role over with the same transform. Labels keep nearest-neighbor
	// interpolation so no new values appear.
	if err := ctx.Err(); err != nil {
		return r.fail(res, start, StageRegister, err)
	}
	driver, err := driverRole(volumes)
	if err != nil {
		return r.fail(res, start, StageRegister, err)
	}
	logging.LogStageStart(r.log, subject.ID, string(StageRegister))
	regStart := time.Now()
	reg, err := registration.Register(r.atlas, volumes[driver], r.opts.Registration)
	if err != nil {
		return r.fail(res, start, StageRegister, err)
	}
	res.Metric = reg.Metric
	res.Iterations = reg.Iterations

	aligned := map[dataset.Role]*imaging.Image{driver: reg.Image}
	for _, role := range subject.Files.Roles() {
		if role == driver {
			continue
		}
		interp := registration.Linear
		if role.Kind() == dataset.KindLabel {
			interp = registration.NearestNeighbor
		}
		img, err := registration.Resample(volumes[role], r.atlas, reg.Transform, interp)
		if err != nil {
			return r.fail(res, start, StageRegister, err)
		}
		aligned[role] = img
	}
	logging.LogStageComplete(r.log, subject.ID, string(StageRegister), time.Since(regStart), map[string]any{
		"driver":     driver.String(),
		"metric":     reg.Metric,
		"iterations": reg.Iterations,
	})

	// Apply skull stripping and the configured filter chain to the
	// intensity volumes. Label volumes pass through untouched.
	if r.opts.SkullStrip || len(r.opts.Filters) > 0 {
		if err := ctx.Err(); err != nil {
			return r.fail(res, start, StageFilter, err)
		}
		logging.LogStageStart(r.log, subject.ID, string(StageFilter))
		filterStart := time.Now()
		filtered := 0
		for _, role := range subject.Files.Roles() {
			if role.Kind() != dataset.KindIntensity {
				continue
			}
			img := aligned[role]
			if r.opts.SkullStrip {
				mask, ok := aligned[dataset.RoleBrainMask]
				if !ok {
					return r.fail(res, start, StageFilter,
						fmt.Errorf("skull stripping requires the %s role", dataset.RoleBrainMask))
				}
				strip := filters.SkullStrip{Mask: mask}
				img, err = strip.Apply(img)
				if err != nil {
					return r.fail(res, start, StageFilter, err)
				}
			}
			if len(r.opts.Filters) > 0 {
				img, err = r.opts.Filters.Apply(img)
				if err != nil {
					return r.fail(res, start, StageFilter, err)
				}
			}
			aligned[role] = img
			filtered++
		}
		logging.LogStageComplete(r.log, subject.ID, string(StageFilter), time.Since(filterStart), map[string]any{
			"volumes": filtered,
			"filters": len(r.opts.Filters),
		})
	}

	// Write everything under <output>/<subject>/.
	if err := ctx.Err(); err != nil {
		return r.fail(res, start, StageSave, err)
	}
	logging.LogStageStart(r.log, subject.ID, string(StageSave))
	saveStart := time.Now()
	outDir := filepath.Join(r.opts.OutputDir, subject.ID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return r.fail(res, start, StageSave, err)
	}
	for _, role := range subject.Files.Roles() {
		path := filepath.Join(outDir, OutputName(role))
		if err := mha.Save(path, aligned[role], r.opts.Compress); err != nil {
			return r.fail(res, start, StageSave, err)
		}
		res.Outputs[role] = path
	}
	if r.opts.SaveTransform {
		path := filepath.Join(outDir, "transform.json")
		if err := reg.Transform.Save(path); err != nil {
			return r.fail(res, start, StageSave, err)
		}
		res.TransformPath = path
	}
	logging.LogStageComplete(r.log, subject.ID, string(StageSave), time.Since(saveStart), map[string]any{
		"outputs": len(res.Outputs),
	})

	res.Duration = time.Since(start)
	logging.LogSubjectComplete(r.log, subject.ID, res.Duration, len(res.Outputs))
	return res
}

// RunBatch collects and processes the given subjects. With an empty
// subject list it runs everything found under the collector root. A
// subject that fails is recorded in the summary; the batch continues.
func (r *Runner) RunBatch(ctx context.Context, collector *dataset.Collector, subjects []string) (*BatchSummary, error) {
	if len(subjects) == 0 {
		var err error
		subjects, err = collector.Subjects()
		if err != nil {
			return nil, err
		}
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("no subjects found under %s", collector.Root())
	}

	summary := &BatchSummary{RunID: uuid.New().String()}
	start := time.Now()
	r.log.Info("batch started",
		"run_id", summary.RunID,
		"subjects", len(subjects),
		"root", collector.Root(),
	)

	for _, id := range subjects {
		if err := ctx.Err(); err != nil {
			r.log.Warn("batch interrupted",
				"run_id", summary.RunID,
				"remaining", len(subjects)-len(summary.Results),
			)
			break
		}

		subject, err := collector.Collect(id)
		if err != nil {
			logging.LogStageError(r.log, id, string(StageCollect), 0, err)
			summary.Results = append(summary.Results, SubjectResult{
				Subject: id,
				Err:     &StageError{Subject: id, Stage: StageCollect, Err: err},
			})
			summary.Failed++
			continue
		}

		res := r.ProcessSubject(ctx, subject)
		summary.Results = append(summary.Results, res)
		if res.Err != nil {
			summary.Failed++
		} else {
			summary.Processed++
		}
	}

	summary.Duration = time.Since(start)
	r.log.Info("batch finished",
		"run_id", summary.RunID,
		"processed", summary.Processed,
		"failed", summary.Failed,
		"duration", summary.Duration.String(),
	)
	return summary, nil
}

// OutputName returns the file name a role is saved under once it sits
// on the atlas grid.
func OutputName(role dataset.Role) string {
	switch role {
	case dataset.RoleT1:
		return "T1atlas.mha"
	case dataset.RoleT2:
		return "T2atlas.mha"
	case dataset.RoleGroundTruth:
		return "labels_atlas.mha"
	case dataset.RoleBrainMask:
		return "Brainmaskatlas.mha"
	}
	return ""
}

func (r *Runner) fail(res SubjectResult, start time.Time, stage Stage, err error) SubjectResult {
	res.Err = &StageError{Subject: res.Subject, Stage: stage, Err: err}
	res.Duration = time.Since(start)
	logging.LogStageError(r.log, res.Subject, string(stage), res.Duration, err)
	return res
}

// driverRole picks the scan that drives registration. T1 wins when
// present; otherwise the first intensity role in declaration order.
func driverRole(volumes map[dataset.Role]*imaging.Image) (dataset.Role, error) {
	if _, ok := volumes[dataset.RoleT1]; ok {
		return dataset.RoleT1, nil
	}
	for _, role := range dataset.AllRoles() {
		if _, ok := volumes[role]; ok && role.Kind() == dataset.KindIntensity {
			return role, nil
		}
	}
	return dataset.RoleT1, errors.New("no intensity volume available to drive registration")
}
