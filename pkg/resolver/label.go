package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"scantamper/internal/models"
	"scantamper/pkg/scanio"
)

// LabelResolver reads the coordinate from a NumPy record whose path is the scan
// path with ScanSuffix replaced by LabelSuffix. The first row is trusted; its
// first three columns are the (z, y, x) coordinate.
type LabelResolver struct {
	ScanSuffix  string
	LabelSuffix string
	Space       models.CoordinateSpace
}

// LabelPath returns the companion record path of scanPath.
func (r *LabelResolver) LabelPath(scanPath string) (string, error) {
	if !strings.HasSuffix(scanPath, r.ScanSuffix) {
		return "", &ParseError{ScanPath: scanPath, Reason: fmt.Sprintf("missing suffix %q", r.ScanSuffix)}
	}
	return strings.TrimSuffix(scanPath, r.ScanSuffix) + r.LabelSuffix, nil
}

func (r *LabelResolver) Resolve(ctx context.Context, scanPath string) (models.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinate{}, err
	}
	path, err := r.LabelPath(scanPath)
	if err != nil {
		return models.Coordinate{}, err
	}

	data, shape, err := scanio.ReadNPY(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Coordinate{}, &NotFoundError{ScanPath: scanPath, Source: path, Err: err}
	}
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("reading label %s: %w", path, err)
	}

	row, err := firstRow(data, shape)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("label %s: %w", path, err)
	}
	if r.Space == models.WorldSpace {
		return models.WorldCoordinate(row[0], row[1], row[2]), nil
	}
	return models.VoxelCoordinate(int(row[0]), int(row[1]), int(row[2])), nil
}

// firstRow returns the first three values of the first row of a 1D or 2D array.
func firstRow(data []float64, shape []int) ([3]float64, error) {
	cols := 0
	switch len(shape) {
	case 1:
		cols = shape[0]
	case 2:
		if shape[0] > 0 {
			cols = shape[1]
		}
	default:
		return [3]float64{}, fmt.Errorf("expected a 1D or 2D array, got shape %v", shape)
	}
	if cols < 3 {
		return [3]float64{}, fmt.Errorf("first row has %d values, need 3", cols)
	}
	return [3]float64{data[0], data[1], data[2]}, nil
}
