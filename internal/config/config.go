package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultConfigPath = "~/.config/brainprep/config.json"
	defaultIterations = 300
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Data         Data         `json:"data"`
	Logging      Logging      `json:"logging"`
	Registration Registration `json:"registration"`
	Filters      Filters      `json:"filters"`
	Output       Output       `json:"output"`
	Watch        Watch        `json:"watch"`
	Scratch      Scratch      `json:"scratch"`
}

// Data locates the study inputs.
type Data struct {
	Root      string   `json:"root"`       // study root holding one directory per subject
	AtlasPath string   `json:"atlas_path"` // reference volume subjects are registered onto
	Roles     []string `json:"roles"`      // roles to collect per subject
	FileExt   string   `json:"file_ext"`   // optional extension override for the naming convention
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Registration tunes the optimizer that aligns scans onto the atlas.
type Registration struct {
	Metric        string  `json:"metric"`
	MaxIterations int     `json:"max_iterations"`
	Tolerance     float64 `json:"tolerance"`
	SampleStride  int     `json:"sample_stride"`
	SimplexSize   float64 `json:"simplex_size"`
}

// Filters selects the preprocessing applied after registration.
type Filters struct {
	Preset     string `json:"preset"`      // path to a YAML filter preset
	SkullStrip bool   `json:"skull_strip"` // zero out non-brain voxels using the mask role
}

// Output controls where and how results are written.
type Output struct {
	Dir           string `json:"dir"`
	Compress      bool   `json:"compress"`
	SaveTransform bool   `json:"save_transform"`
}

// Watch tunes the directory watcher.
type Watch struct {
	SettleSeconds int `json:"settle_seconds"` // quiet period before a new subject is picked up
}

// Scratch configures the optional in-memory staging area for batch runs.
type Scratch struct {
	Enabled bool   `json:"enabled"`
	SizeMB  int    `json:"size_mb"` // 0 sizes the area from the dataset
	Dir     string `json:"dir"`     // empty uses a generated mount point
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("BRAINPREP_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Data: Data{
			Root:  ".",
			Roles: []string{"t1", "labels"},
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Registration: Registration{
			Metric:        "mean_squares",
			MaxIterations: defaultIterations,
			Tolerance:     1e-8,
			SampleStride:  2,
			SimplexSize:   0.5,
		},
		Output: Output{
			Dir:           "./output",
			SaveTransform: true,
		},
		Watch: Watch{
			SettleSeconds: 5,
		},
		Scratch: Scratch{
			Dir: filepath.Join(os.TempDir(), "brainprep-scratch"),
		},
	}
}

func expandUser(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
