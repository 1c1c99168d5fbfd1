package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"brainprep/internal/dataset"
	"brainprep/internal/filters"
	"brainprep/internal/loader"
	"brainprep/internal/registration"
)

func (r *Root) cmdConfig(ctx context.Context, args []string) error {
	_ = ctx
	if len(args) == 0 {
		return r.configShow()
	}
	switch args[0] {
	case "show":
		return r.configShow()
	case "validate":
		return r.configValidate()
	default:
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

func (r *Root) configShow() error {
	fmt.Printf("Current configuration:\n")
	cfgPath := os.Getenv("BRAINPREP_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/brainprep/config.json"
	}
	fmt.Printf("Config file: %s\n", cfgPath)
	fmt.Printf("\nData:\n")
	fmt.Printf("  Study root: %s\n", r.cfg.Data.Root)
	fmt.Printf("  Atlas: %s\n", r.cfg.Data.AtlasPath)
	fmt.Printf("  Roles: %s\n", strings.Join(r.cfg.Data.Roles, ", "))
	if r.cfg.Data.FileExt != "" {
		fmt.Printf("  File extension: %s\n", r.cfg.Data.FileExt)
	}
	fmt.Printf("\nRegistration:\n")
	fmt.Printf("  Metric: %s\n", r.cfg.Registration.Metric)
	fmt.Printf("  Max iterations: %d\n", r.cfg.Registration.MaxIterations)
	fmt.Printf("  Tolerance: %g\n", r.cfg.Registration.Tolerance)
	fmt.Printf("  Sample stride: %d\n", r.cfg.Registration.SampleStride)
	fmt.Printf("\nFilters:\n")
	if r.cfg.Filters.Preset != "" {
		fmt.Printf("  Preset: %s\n", r.cfg.Filters.Preset)
	} else {
		fmt.Printf("  Preset: (none)\n")
	}
	fmt.Printf("  Skull strip: %t\n", r.cfg.Filters.SkullStrip)
	fmt.Printf("\nOutput:\n")
	fmt.Printf("  Directory: %s\n", r.cfg.Output.Dir)
	fmt.Printf("  Compress: %t\n", r.cfg.Output.Compress)
	fmt.Printf("  Save transform: %t\n", r.cfg.Output.SaveTransform)
	fmt.Printf("\nScratch disk:\n")
	fmt.Printf("  Enabled: %t\n", r.cfg.Scratch.Enabled)
	if r.cfg.Scratch.SizeMB > 0 {
		fmt.Printf("  Size: %d MB\n", r.cfg.Scratch.SizeMB)
	}
	return nil
}

func (r *Root) configValidate() error {
	fmt.Printf("Validating configuration...\n\n")
	failures := 0

	if _, err := dataset.ParseRoles(r.cfg.Data.Roles); err != nil {
		fmt.Printf("❌ Roles: %v\n", err)
		failures++
	} else {
		fmt.Printf("✅ Roles: %s\n", strings.Join(r.cfg.Data.Roles, ", "))
	}

	if info, err := os.Stat(r.cfg.Data.Root); err != nil {
		fmt.Printf("❌ Study root: %v\n", err)
		failures++
	} else if !info.IsDir() {
		fmt.Printf("❌ Study root: %s is not a directory\n", r.cfg.Data.Root)
		failures++
	} else {
		fmt.Printf("✅ Study root: %s\n", r.cfg.Data.Root)
	}

	if r.cfg.Data.AtlasPath == "" {
		fmt.Printf("❌ Atlas: not configured\n")
		failures++
	} else if atlas, err := loader.LoadVolume(r.cfg.Data.AtlasPath); err != nil {
		fmt.Printf("❌ Atlas: %v\n", err)
		failures++
	} else {
		dims := atlas.Dims()
		fmt.Printf("✅ Atlas: %s (%dx%dx%d %s)\n",
			r.cfg.Data.AtlasPath, dims[0], dims[1], dims[2], atlas.PixelType())
	}

	switch r.cfg.Registration.Metric {
	case "", registration.MetricMeanSquares, registration.MetricMeanAbsolute:
		fmt.Printf("✅ Metric: %s\n", r.cfg.Registration.Metric)
	default:
		fmt.Printf("❌ Metric: unsupported metric %q\n", r.cfg.Registration.Metric)
		failures++
	}

	if r.cfg.Filters.Preset != "" {
		if chain, err := r.filterChain(r.cfg.Filters.Preset); err != nil {
			fmt.Printf("❌ Filter preset: %v\n", err)
			failures++
		} else {
			fmt.Printf("✅ Filter preset: %s (%d filters)\n", r.cfg.Filters.Preset, len(chain))
		}
	}

	if failures > 0 {
		return fmt.Errorf("configuration has %d problem(s)", failures)
	}
	fmt.Printf("\nConfiguration OK\n")
	return nil
}

func (r *Root) cmdVersion() error {
	fmt.Printf("brainprep v1.0.0-dev\n")
	fmt.Printf("Built with Go %s\n", runtime.Version())
	fmt.Printf("Volume formats: MetaImage (.mha/.mhd), NIfTI (.nii/.nii.gz), DICOM series\n")
	fmt.Printf("Available filters:\n")
	for _, name := range filters.Names() {
		fmt.Printf("  - %s\n", name)
	}
	return nil
}
