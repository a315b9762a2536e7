package model

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"scantamper/internal/models"
	"scantamper/pkg/intensity"
	"scantamper/pkg/scanio"
)

// Files of a model artifact directory.
const (
	ManifestFile      = "model.yaml"
	NormalizationFile = "normalization.npy"
	EqualizationFile  = "equalization.yaml"
)

// Manifest describes a served model.
type Manifest struct {
	Name       string        `yaml:"name"`
	Endpoint   string        `yaml:"endpoint" validate:"required,url"`
	InputShape [3]int        `yaml:"inputShape" validate:"dive,gt=0"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
}

var validate = validator.New()

// Artifact is a loaded model with its normalization parameters and optional
// equalizer. A degraded artifact has no generator; tampering with it is a no-op.
// An Artifact is read-only once loaded and may be shared between manipulators.
type Artifact struct {
	Name      string
	Generator Generator
	Params    intensity.NormalizationParams
	Equalizer *intensity.Equalizer
	Timeout   time.Duration

	Degraded bool
	Reason   error
}

// DegradedArtifact returns an artifact that makes tampering a no-op.
func DegradedArtifact(reason error) *Artifact {
	return &Artifact{Degraded: true, Reason: reason}
}

// LoadArtifact loads the artifact in dir. It never fails: any problem is logged
// and yields a degraded artifact.
func LoadArtifact(dir string, logger *slog.Logger) *Artifact {
	a, err := loadArtifact(dir)
	if err != nil {
		logger.Warn("model unavailable, tampering disabled", "dir", dir, "error", err)
		return DegradedArtifact(err)
	}
	logger.Info("loaded model",
		"name", a.Name,
		"inputShape", a.Generator.InputShape().String(),
		"equalizer", a.Equalizer != nil)
	return a
}

func loadArtifact(dir string) (*Artifact, error) {
	if dir == "" {
		return nil, errors.New("no model directory configured")
	}

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ManifestFile, err)
	}

	values, _, err := scanio.ReadNPY(filepath.Join(dir, NormalizationFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", NormalizationFile, err)
	}
	params, err := intensity.ParamsFromArray(values)
	if err != nil {
		return nil, err
	}

	var eq *intensity.Equalizer
	eqPath := filepath.Join(dir, EqualizationFile)
	if _, err := os.Stat(eqPath); err == nil {
		if eq, err = intensity.LoadEqualizer(eqPath); err != nil {
			return nil, err
		}
	}

	name := m.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	return &Artifact{
		Name:      name,
		Generator: NewHTTPGenerator(m.Endpoint, models.ShapeOf(m.InputShape)),
		Params:    params,
		Equalizer: eq,
		Timeout:   m.Timeout,
	}, nil
}

// WithGenerator returns a copy of a that infers through g.
func (a *Artifact) WithGenerator(g Generator) *Artifact {
	c := *a
	c.Generator = g
	return &c
}
