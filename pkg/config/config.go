// Package config provides configuration loading and management for scantamper.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Generative model parameters
	Model struct {
		// Path is the model artifact directory
		Path string `yaml:"path"`

		// PhysicalCubeSize is the extent in mm (z, y, x) of the region presented to the model
		PhysicalCubeSize [3]float64 `yaml:"physicalCubeSize" validate:"dive,gt=0"`

		// InferenceTimeout bounds each call to the model
		InferenceTimeout time.Duration `yaml:"inferenceTimeout" validate:"gte=0"`

		// SerializeInference forces one inference at a time across workers
		SerializeInference bool `yaml:"serializeInference"`
	} `yaml:"model"`

	// Tamper algorithm parameters
	Tamper struct {
		// Equalize enables histogram equalization and the affine model-range mapping
		Equalize bool `yaml:"equalize"`

		// Resample rescales the extracted cube to the model input shape when they differ
		Resample bool `yaml:"resample"`

		// ClampLow and ClampHigh bound the model output in normalized units
		ClampLow  float64 `yaml:"clampLow"`
		ClampHigh float64 `yaml:"clampHigh" validate:"gtfield=ClampLow"`

		// Ceiling is the largest plausible intensity after de-equalization
		Ceiling float64 `yaml:"ceiling"`

		// Floor is the smallest plausible intensity after de-equalization
		Floor float64 `yaml:"floor" validate:"ltfield=Ceiling"`

		// RepairWindow is the edge length of the neighbourhood used to repair overflow
		RepairWindow int `yaml:"repairWindow" validate:"gte=1"`

		// FillValue pads cubes that extend beyond the scan, in the normalized units
		// of the loaded scan (0 is the scan mean)
		FillValue float64 `yaml:"fillValue"`

		// Mask limits (z, y, x half-open ranges) cleared in the model input; empty disables
		MaskZ []int `yaml:"maskZ,omitempty" validate:"len=0|len=2"`
		MaskY []int `yaml:"maskY,omitempty" validate:"len=0|len=2"`
		MaskX []int `yaml:"maskX,omitempty" validate:"len=0|len=2"`

		// RestoreIntensity undoes the global normalization before saving
		RestoreIntensity bool `yaml:"restoreIntensity"`
	} `yaml:"tamper"`

	// Seam touch-up parameters
	TouchUp struct {
		// Enabled turns on noise touch-ups after the hard paste
		Enabled bool `yaml:"enabled"`

		// CopyNoise copies background noise from a reference location instead of synthesizing it
		CopyNoise bool `yaml:"copyNoise"`

		// ExtentFactor scales the largest cube dimension to get the touch-up region
		ExtentFactor float64 `yaml:"extentFactor" validate:"gte=1"`

		// KernelSize controls how quickly the tapering kernel falls off
		KernelSize float64 `yaml:"kernelSize" validate:"gt=0"`

		// SigmoidCenter and SigmoidWidth shape the intensity weight map
		SigmoidCenter float64 `yaml:"sigmoidCenter"`
		SigmoidWidth  float64 `yaml:"sigmoidWidth" validate:"gt=0"`

		// BackgroundCeiling selects host voxels used to measure background noise
		BackgroundCeiling float64 `yaml:"backgroundCeiling"`

		// CopyNoiseCeiling marks tissue in the copied noise reference
		CopyNoiseCeiling float64 `yaml:"copyNoiseCeiling"`

		// NoiseScale multiplies the measured background standard deviation
		NoiseScale float64 `yaml:"noiseScale" validate:"gte=0"`

		// NoiseCoarsening is the upsampling factor of the synthesized noise
		NoiseCoarsening float64 `yaml:"noiseCoarsening" validate:"gte=1"`

		// ReferenceLocation is the copy-noise source as fractions of the scan shape (z, y, x)
		ReferenceLocation [3]float64 `yaml:"referenceLocation" validate:"dive,gte=0,lte=1"`

		// Seed makes synthesized noise reproducible; 0 seeds from the clock
		Seed uint64 `yaml:"seed"`
	} `yaml:"touchup"`

	// Coordinate resolution parameters
	Resolver struct {
		// Mode selects the resolver: "label" or "annotation"
		Mode string `yaml:"mode" validate:"oneof=label annotation"`

		// ScanSuffix is replaced by LabelSuffix to find the companion label record
		ScanSuffix  string `yaml:"scanSuffix"`
		LabelSuffix string `yaml:"labelSuffix"`

		// LabelSpace is the coordinate space of label records: "voxel" or "world"
		LabelSpace string `yaml:"labelSpace" validate:"oneof=voxel world"`

		// Annotations is a CSV file or a SQLite database (.db, .sqlite)
		Annotations string `yaml:"annotations"`

		// Shift offsets the injection site from the annotation, in table (x, y, z) order
		Shift [3]int `yaml:"shift"`
	} `yaml:"resolver"`

	// Batch augmentation parameters
	Augment struct {
		// OutputDir receives the tampered scans
		OutputDir string `yaml:"outputDir"`

		// OutputPrefix is prepended to the source file name
		OutputPrefix string `yaml:"outputPrefix"`

		// OutputFormat is "zvol", "npy" or "dicom"
		OutputFormat string `yaml:"outputFormat" validate:"oneof=zvol npy dicom"`

		// Workers is the number of scans processed concurrently
		Workers int `yaml:"workers" validate:"gte=1"`
	} `yaml:"augment"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary tamper stages
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary stages are written
		IntermediaryDir string `yaml:"intermediaryDir"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" validate:"oneof=debug info warn error"`

		// File is a rotating log file; empty logs to stdout
		File string `yaml:"file"`

		// MaxSize is the log file size in megabytes before rotation
		MaxSize int `yaml:"maxSize" validate:"gte=0"`

		// MaxAge is the number of days rotated logs are kept
		MaxAge int `yaml:"maxAge" validate:"gte=0"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.PhysicalCubeSize = [3]float64{32, 32, 32}
	cfg.Model.InferenceTimeout = 2 * time.Minute

	cfg.Tamper.Equalize = false
	cfg.Tamper.Resample = true
	cfg.Tamper.ClampLow = -0.5
	cfg.Tamper.ClampHigh = 0.5
	cfg.Tamper.Ceiling = 2000
	cfg.Tamper.Floor = -1000
	cfg.Tamper.RepairWindow = 5
	cfg.Tamper.FillValue = 0
	cfg.Tamper.RestoreIntensity = true

	cfg.TouchUp.Enabled = false
	cfg.TouchUp.ExtentFactor = 1.3
	cfg.TouchUp.KernelSize = 3
	cfg.TouchUp.SigmoidCenter = -700
	cfg.TouchUp.SigmoidWidth = 70
	cfg.TouchUp.BackgroundCeiling = -600
	cfg.TouchUp.CopyNoiseCeiling = -800
	cfg.TouchUp.NoiseScale = 0.6
	cfg.TouchUp.NoiseCoarsening = 2
	cfg.TouchUp.ReferenceLocation = [3]float64{0.5, 0.43, 0.27}

	cfg.Resolver.Mode = "label"
	cfg.Resolver.ScanSuffix = "image.npy"
	cfg.Resolver.LabelSuffix = "label.npy"
	cfg.Resolver.LabelSpace = "voxel"
	cfg.Resolver.Shift = [3]int{0, 0, 40}

	cfg.Augment.OutputDir = "tampered"
	cfg.Augment.OutputPrefix = "generated_"
	cfg.Augment.OutputFormat = "zvol"
	cfg.Augment.Workers = 1

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 28

	return cfg
}

var validate = validator.New()

// Validate checks the configuration for out-of-range values
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
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
