// Package scanio loads and saves volumetric scans together with their geometry.
//
// Supported inputs are DICOM series (a directory, or any one .dcm file of it),
// zvol archives written by this package and NumPy .npy volumes with an optional
// <stem>.yaml geometry sidecar. Outputs are zvol archives or, for scans loaded
// from DICOM, a re-encoded DICOM series. NumPy output carries its geometry in a
// sidecar.
package scanio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"scantamper/internal/models"
	"scantamper/pkg/geometry"
)

// Formats.
const (
	FormatDICOM = "dicom"
	FormatZVol  = "zvol"
	FormatNPY   = "npy"
)

var (
	// ErrUnknownFormat is returned for paths whose format cannot be determined.
	ErrUnknownFormat = errors.New("scanio: unknown scan format")

	// ErrNoSliceMetadata is returned when saving a DICOM series for a scan that was
	// not loaded from DICOM.
	ErrNoSliceMetadata = errors.New("scanio: dicom output requires a scan loaded from dicom")
)

// Store reads and writes scans.
type Store struct {
	logger *slog.Logger
}

// NewStore returns a Store logging to logger.
func NewStore(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

// DetectFormat determines the storage format of path.
func DetectFormat(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return FormatDICOM, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dcm":
		return FormatDICOM, nil
	case ".zvol":
		return FormatZVol, nil
	case ".npy":
		return FormatNPY, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Load reads the scan at path.
func (s *Store) Load(path string) (*models.Scan, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var scan *models.Scan
	switch format {
	case FormatDICOM:
		scan, err = loadDICOM(path)
	case FormatZVol:
		scan, err = loadZVol(path)
	case FormatNPY:
		scan, err = loadNPY(path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s scan %s: %w", format, path, err)
	}
	if err := geometry.Validate(scan.Geometry); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	s.logger.Info("loaded scan",
		"path", path,
		"format", format,
		"shape", scan.Volume.Shape.String(),
		"spacing", scan.Spacing,
		"size", humanize.Bytes(uint64(len(scan.Volume.Data))*8))
	return scan, nil
}

// Geometry returns the geometry of the scan at path.
func (s *Store) Geometry(path string) (models.Geometry, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return models.Geometry{}, err
	}
	if format == FormatZVol {
		h, err := readZVolHeader(path)
		if err != nil {
			return models.Geometry{}, err
		}
		return h.Geometry, nil
	}
	scan, err := s.Load(path)
	if err != nil {
		return models.Geometry{}, err
	}
	return scan.Geometry, nil
}

// Save writes scan to dir. For zvol and npy output, filename's extension is
// replaced by the format's; for DICOM output a series directory named after filename is created.
// It returns the path written.
func (s *Store) Save(scan *models.Scan, dir, filename, format string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	var (
		dst string
		err error
	)
	switch format {
	case FormatZVol:
		dst = filepath.Join(dir, stem+".zvol")
		err = saveZVol(scan, dst)
	case FormatNPY:
		dst = filepath.Join(dir, stem+".npy")
		err = saveNPY(scan, dst)
	case FormatDICOM:
		series, ok := scan.Raw.(*dicomSeries)
		if !ok {
			return "", ErrNoSliceMetadata
		}
		dst = filepath.Join(dir, stem)
		err = saveDICOM(scan, series, dst)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return "", fmt.Errorf("saving %s: %w", dst, err)
	}

	s.logger.Info("saved scan", "path", dst, "format", format)
	return dst, nil
}
