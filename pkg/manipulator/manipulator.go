// Package manipulator tampers with one loaded scan at a time.
//
// A Manipulator moves through the states
//
//	Unloaded -> ModelLoaded -> ScanLoaded -> Tampered -> Saved
//
// Loading a model never fails: a missing artifact leaves the manipulator in a
// degraded mode in which Tamper is a no-op. A Manipulator must not be used from
// several goroutines; the model artifact it holds may be shared.
package manipulator

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"scantamper/internal/models"
	"scantamper/pkg/config"
	"scantamper/pkg/intensity"
	"scantamper/pkg/model"
	"scantamper/pkg/scanio"
)

var (
	// ErrScanNotLoaded is returned by Tamper before a scan has been loaded.
	ErrScanNotLoaded = errors.New("manipulator: no scan loaded")

	// ErrShapeMismatch is returned when the extraction shape differs from the
	// model's input shape and resampling is disabled.
	ErrShapeMismatch = errors.New("manipulator: extraction shape differs from model input shape")

	// ErrNoEqualizer is returned when equalization is enabled but the model
	// artifact carries no equalizer.
	ErrNoEqualizer = errors.New("manipulator: equalization enabled but model has no equalizer")
)

// State is the lifecycle stage of a Manipulator.
type State int

const (
	Unloaded State = iota
	ModelLoaded
	ScanLoaded
	Tampered
	Saved
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case ModelLoaded:
		return "model-loaded"
	case ScanLoaded:
		return "scan-loaded"
	case Tampered:
		return "tampered"
	case Saved:
		return "saved"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Manipulator holds a model artifact and at most one scan.
type Manipulator struct {
	cfg    *config.Config
	store  *scanio.Store
	logger *slog.Logger

	artifact *model.Artifact
	scan     *models.Scan
	stats    intensity.Stats
	state    State
}

// New returns an Unloaded manipulator.
func New(cfg *config.Config, store *scanio.Store, logger *slog.Logger) *Manipulator {
	return &Manipulator{cfg: cfg, store: store, logger: logger}
}

// State returns the current lifecycle stage.
func (m *Manipulator) State() State { return m.state }

// Degraded reports whether tampering is disabled for lack of a usable model.
func (m *Manipulator) Degraded() bool {
	return m.artifact == nil || m.artifact.Degraded
}

// Scan returns the loaded scan, or nil.
func (m *Manipulator) Scan() *models.Scan { return m.scan }

// Stats returns the moments removed from the loaded scan by global normalization.
func (m *Manipulator) Stats() intensity.Stats { return m.stats }

// LoadModel loads the artifact in dir. Problems are logged and leave the
// manipulator degraded.
func (m *Manipulator) LoadModel(dir string) {
	m.UseArtifact(model.LoadArtifact(dir, m.logger))
}

// UseArtifact installs an already loaded artifact. The artifact is not modified.
func (m *Manipulator) UseArtifact(a *model.Artifact) {
	m.artifact = a
	if m.Degraded() {
		m.logger.Warn("tampering disabled: running in degraded mode")
	} else if m.cfg.Tamper.Equalize && a.Equalizer == nil {
		m.logger.Warn("equalization enabled but model has no equalizer", "model", a.Name)
	}
	if m.state == Unloaded {
		m.state = ModelLoaded
	}
}

// LoadScan loads the scan at path, replacing any loaded scan, and standardizes
// its intensities.
func (m *Manipulator) LoadScan(path string) error {
	scan, err := m.store.Load(path)
	if err != nil {
		return err
	}
	m.stats = intensity.NormalizeGlobal(scan.Volume)
	m.scan = scan
	m.state = ScanLoaded

	m.logger.Debug("normalized scan", "path", path, "mean", m.stats.Mean, "std", m.stats.Std)
	return nil
}

// SaveScan writes the loaded scan to dir under filename in the given format and
// returns the written path. With no scan loaded it logs and does nothing.
func (m *Manipulator) SaveScan(dir, filename, format string) (string, error) {
	if m.scan == nil {
		m.logger.Warn("save requested with no scan loaded", "dir", dir, "filename", filename)
		return "", nil
	}

	out := m.scan
	if m.cfg.Tamper.RestoreIntensity {
		restored := *m.scan
		restored.Volume = m.scan.Volume.Clone()
		m.stats.Denormalize(restored.Volume)
		out = &restored
	}

	path, err := m.store.Save(out, dir, filename, format)
	if err != nil {
		return "", err
	}
	m.state = Saved
	return path, nil
}

func (m *Manipulator) intermediaryDir() string {
	base := filepath.Base(m.scan.Path)
	return filepath.Join(m.cfg.Output.IntermediaryDir, base)
}
