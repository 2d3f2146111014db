// Package config provides configuration loading and management for gisegment.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// CRF refinement modes
const (
	// ModePerClass refines each class channel as its own binary mask
	ModePerClass = "per_class"

	// ModeJoint packs the class channels into one label image and writes the
	// single refined map for every class
	ModeJoint = "joint"
)

// Config represents the application configuration loaded from YAML.
// A loaded Config is not mutated afterwards; components receive plain
// parameter values derived from it.
type Config struct {
	// Data parameters
	Data struct {
		// Root is the directory searched for slice PNGs
		Root string `yaml:"root"`

		// SliceShift is the half-window of the 2.5D stack (channels = 2*shift+1)
		SliceShift int `yaml:"sliceShift"`

		// ImageSize is the model input resolution as [height, width]
		ImageSize []int `yaml:"imageSize"`

		// BatchSize is the number of slices per forward pass
		BatchSize int `yaml:"batchSize"`
	} `yaml:"data"`

	// Model parameters
	Model struct {
		// CheckpointDir holds one checkpoint per fold
		CheckpointDir string `yaml:"checkpointDir"`

		// CheckpointPattern is the glob used to discover fold checkpoints
		CheckpointPattern string `yaml:"checkpointPattern"`

		// NumFolds is the expected number of checkpoints
		NumFolds int `yaml:"numFolds"`

		// NumClasses is the number of output channels
		NumClasses int `yaml:"numClasses"`
	} `yaml:"model"`

	// Inference parameters
	Inference struct {
		// Threshold binarizes averaged probabilities
		Threshold float64 `yaml:"threshold"`

		// NumCores bounds per-image parallelism
		NumCores int `yaml:"numCores"`

		// Retries is the number of attempts for a single image
		Retries int `yaml:"retries"`
	} `yaml:"inference"`

	// CRF refinement parameters
	CRF struct {
		Enabled    bool      `yaml:"enabled"`
		Mode       string    `yaml:"mode"`
		NumLabels  int       `yaml:"numLabels"`
		GTProb     float64   `yaml:"gtProb"`
		ZeroUnsure bool      `yaml:"zeroUnsure"`
		SXY        []float64 `yaml:"sxy"`
		Compat     float64   `yaml:"compat"`
		Iterations int       `yaml:"iterations"`

		// Truncate is the kernel radius in standard deviations
		Truncate float64 `yaml:"truncate"`
	} `yaml:"crf"`

	// Metrics parameters
	Metrics struct {
		// Epsilon smooths Dice and IoU on empty masks
		Epsilon float64 `yaml:"epsilon"`
	} `yaml:"metrics"`

	// Output parameters
	Output struct {
		// Submission is the CSV written by predict
		Submission string `yaml:"submission"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir receives intermediary images
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose enables the progress bar
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Data.Root = "."
	cfg.Data.SliceShift = 1
	cfg.Data.ImageSize = []int{224, 224}
	cfg.Data.BatchSize = 64

	cfg.Model.CheckpointDir = "checkpoints"
	cfg.Model.CheckpointPattern = "best*"
	cfg.Model.NumFolds = 4
	cfg.Model.NumClasses = 3

	cfg.Inference.Threshold = 0.5
	cfg.Inference.NumCores = runtime.NumCPU()
	cfg.Inference.Retries = 1

	cfg.CRF.Enabled = true
	cfg.CRF.Mode = ModePerClass
	cfg.CRF.NumLabels = 2
	cfg.CRF.GTProb = 0.7
	cfg.CRF.ZeroUnsure = false
	cfg.CRF.SXY = []float64{3, 3}
	cfg.CRF.Compat = 3
	cfg.CRF.Iterations = 10
	cfg.CRF.Truncate = 4

	cfg.Metrics.Epsilon = 0.001

	cfg.Output.Submission = "submission.csv"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Data.SliceShift < 0 {
		add("data.sliceShift must be >= 0, got %d", c.Data.SliceShift)
	}
	if len(c.Data.ImageSize) != 2 || c.Data.ImageSize[0] <= 0 || c.Data.ImageSize[1] <= 0 {
		add("data.imageSize must be [height, width] with positive values, got %v", c.Data.ImageSize)
	}
	if c.Data.BatchSize <= 0 {
		add("data.batchSize must be positive, got %d", c.Data.BatchSize)
	}
	if c.Model.NumFolds <= 0 {
		add("model.numFolds must be positive, got %d", c.Model.NumFolds)
	}
	if c.Model.NumClasses != 3 {
		add("model.numClasses must be 3, got %d", c.Model.NumClasses)
	}
	if strings.TrimSpace(c.Model.CheckpointPattern) == "" {
		add("model.checkpointPattern must not be empty")
	}
	if c.Inference.Threshold < 0 || c.Inference.Threshold > 1 {
		add("inference.threshold must be in [0, 1], got %g", c.Inference.Threshold)
	}
	if c.Inference.NumCores <= 0 {
		add("inference.numCores must be positive, got %d", c.Inference.NumCores)
	}
	if c.Inference.Retries <= 0 {
		add("inference.retries must be positive, got %d", c.Inference.Retries)
	}
	if c.CRF.Mode != ModePerClass && c.CRF.Mode != ModeJoint {
		add("crf.mode must be %q or %q, got %q", ModePerClass, ModeJoint, c.CRF.Mode)
	}
	if c.CRF.NumLabels < 2 || c.CRF.NumLabels > 256 {
		add("crf.numLabels must be in [2, 256], got %d", c.CRF.NumLabels)
	}
	if c.CRF.GTProb <= 0 || c.CRF.GTProb >= 1 {
		add("crf.gtProb must be in (0, 1), got %g", c.CRF.GTProb)
	}
	if len(c.CRF.SXY) != 2 || c.CRF.SXY[0] <= 0 || c.CRF.SXY[1] <= 0 {
		add("crf.sxy must be two positive values, got %v", c.CRF.SXY)
	}
	if c.CRF.Iterations < 0 {
		add("crf.iterations must be >= 0, got %d", c.CRF.Iterations)
	}
	if c.CRF.Truncate <= 0 {
		add("crf.truncate must be positive, got %g", c.CRF.Truncate)
	}
	if c.Metrics.Epsilon < 0 {
		add("metrics.epsilon must be >= 0, got %g", c.Metrics.Epsilon)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
