package cli

import (
	"log/slog"

	"brainprep/internal/config"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := NewRoot(cfg, log)

	rootCmd := &cobra.Command{
		Use:   "brainprep",
		Short: "brainprep is a brain MRI preprocessing pipeline",
		Long: `brainprep collects the volumes of a study subject, registers them onto a
reference atlas with a rigid transform, applies intensity filters and writes
the aligned results next to a transform sidecar.`,
		SilenceUsage: true,
	}

	// Add subcommands
	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newPreviewCmd(root))
	rootCmd.AddCommand(newTransformCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// bindPipelineFlags registers the flags shared by run, batch and watch and
// returns the struct the command implementations read them through.
func bindPipelineFlags(cmd *cobra.Command, cfg *config.Config) *pipelineFlags {
	f := &pipelineFlags{
		root:        new(string),
		atlas:       new(string),
		output:      new(string),
		roles:       new(string),
		preset:      new(string),
		skullStrip:  new(bool),
		compress:    new(bool),
		noTransform: new(bool),
	}
	cmd.Flags().StringVar(f.root, "root", cfg.Data.Root, "study root directory")
	cmd.Flags().StringVar(f.atlas, "atlas", cfg.Data.AtlasPath, "atlas volume subjects are registered onto")
	cmd.Flags().StringVarP(f.output, "output", "o", cfg.Output.Dir, "directory results are written into")
	cmd.Flags().StringVar(f.roles, "roles", "", "comma-separated roles to collect, config default if empty")
	cmd.Flags().StringVar(f.preset, "preset", cfg.Filters.Preset, "YAML filter preset applied after registration")
	cmd.Flags().BoolVar(f.skullStrip, "skull-strip", cfg.Filters.SkullStrip, "zero non-brain voxels using the brain mask role")
	cmd.Flags().BoolVar(f.compress, "compress", cfg.Output.Compress, "compress output volumes")
	cmd.Flags().BoolVar(f.noTransform, "no-transform", !cfg.Output.SaveTransform, "skip writing the transform sidecar")
	return f
}

func newRunCmd(root *Root) *cobra.Command {
	var f *pipelineFlags

	cmd := &cobra.Command{
		Use:   "run <subject>",
		Short: "Preprocess a single subject",
		Long: `Collect a subject's volumes, register them onto the atlas, apply the
configured filters and write the aligned results.

Examples:
  brainprep run sub-01 --root /data/study --atlas /data/atlas/mni152.mha
  brainprep run sub-01 --preset presets/smooth.yaml --skull-strip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runSubject(cmd.Context(), f, args[0])
		},
	}

	f = bindPipelineFlags(cmd, root.cfg)
	return cmd
}

func newBatchCmd(root *Root) *cobra.Command {
	var (
		f       *pipelineFlags
		scratch bool
	)

	cmd := &cobra.Command{
		Use:   "batch [subjects...]",
		Short: "Preprocess every subject under a study root",
		Long: `Process all subjects found under the study root, or only the listed ones.
Subjects that fail are logged and skipped so the rest of the batch continues.

Examples:
  brainprep batch --root /data/study --atlas /data/atlas/mni152.mha
  brainprep batch sub-01 sub-02 --root /data/study --scratch`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runBatch(cmd.Context(), f, args, scratch)
		},
	}

	f = bindPipelineFlags(cmd, root.cfg)
	cmd.Flags().BoolVar(&scratch, "scratch", root.cfg.Scratch.Enabled, "stage inputs on a memory-backed scratch disk first")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		f            *pipelineFlags
		settle       int
		skipExisting bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process subjects as they arrive in a study root",
		Long: `Process the subjects already present, then watch the study root and run
the pipeline on new subject directories once they have stopped changing.

Examples:
  brainprep watch --root /incoming --atlas /data/atlas/mni152.mha
  brainprep watch --root /incoming --settle 10 --skip-existing`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runWatch(cmd.Context(), f, settle, skipExisting)
		},
	}

	f = bindPipelineFlags(cmd, root.cfg)
	cmd.Flags().IntVar(&settle, "settle", root.cfg.Watch.SettleSeconds, "seconds a new subject directory must stay quiet before processing")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "do not process subjects already present in the study root")
	return cmd
}

func newPreviewCmd(root *Root) *cobra.Command {
	var (
		output string
		plane  string
		index  int
	)

	cmd := &cobra.Command{
		Use:   "preview <volume>",
		Short: "Render orthogonal slice images from a volume",
		Long: `Extract axial, coronal and sagittal slices from a volume and write them
as PNG images for quick visual checks.

Examples:
  brainprep preview output/sub-01/T1atlas.mha
  brainprep preview scan.nii.gz --plane sagittal --slice 90`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runPreview(args[0], output, plane, index)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", root.cfg.Output.Dir, "directory preview images are written into")
	cmd.Flags().StringVar(&plane, "plane", "", "single plane to render (axial|coronal|sagittal), all three if empty")
	cmd.Flags().IntVar(&index, "slice", -1, "slice index along the plane normal, middle slice if negative")
	return cmd
}

func newTransformCmd(root *Root) *cobra.Command {
	var (
		apply     string
		reference string
		output    string
		interp    string
		compress  bool
	)

	cmd := &cobra.Command{
		Use:   "transform <sidecar.json>",
		Short: "Inspect or apply a saved rigid transform",
		Long: `Print the rotation, translation and center of a transform sidecar, or
resample a volume with it onto a reference grid.

Examples:
  brainprep transform output/sub-01/transform.json
  brainprep transform t.json --apply extra.mha --reference atlas.mha --output extra_atlas.mha`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runTransform(args[0], apply, reference, output, interp, compress)
		},
	}

	cmd.Flags().StringVar(&apply, "apply", "", "volume to resample with the transform")
	cmd.Flags().StringVar(&reference, "reference", "", "volume defining the output grid, required with --apply")
	cmd.Flags().StringVarP(&output, "output", "o", "", "path the resampled volume is written to, required with --apply")
	cmd.Flags().StringVar(&interp, "interp", "linear", "interpolation (linear|nearest)")
	cmd.Flags().BoolVar(&compress, "compress", root.cfg.Output.Compress, "compress the resampled volume")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check paths, roles and the filter preset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configValidate()
		},
	})

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdVersion()
		},
	}
}
