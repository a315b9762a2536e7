package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"scantamper/internal/models"
	"scantamper/pkg/annotations"
	"scantamper/pkg/geometry"
)

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// AnnotationResolver converts the first annotation stored for a scan into a
// voxel coordinate and offsets it by Shift.
type AnnotationResolver struct {
	Table    annotations.Table
	Geometry GeometrySource

	// Shift is added to the voxel coordinate. It is given in the table's
	// (x, y, z) order.
	Shift [3]int

	// Source names the table in errors.
	Source string
}

// ScanID derives the annotation identifier of a scan: the trailing run of digits
// of its file stem, without leading zeros.
func ScanID(scanPath string) (string, error) {
	base := filepath.Base(scanPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	m := trailingDigits.FindString(stem)
	if m == "" {
		return "", &ParseError{ScanPath: scanPath, Reason: "file name does not end in a number"}
	}
	return annotations.NormalizeID(m), nil
}

func (r *AnnotationResolver) Resolve(ctx context.Context, scanPath string) (models.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinate{}, err
	}
	id, err := ScanID(scanPath)
	if err != nil {
		return models.Coordinate{}, err
	}

	row, err := r.Table.Lookup(id)
	if errors.Is(err, annotations.ErrNotFound) {
		return models.Coordinate{}, &NotFoundError{ScanPath: scanPath, Source: r.Source, Err: err}
	}
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("looking up %s: %w", id, err)
	}

	g, err := r.Geometry.Geometry(scanPath)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("reading geometry of %s: %w", scanPath, err)
	}

	world := [3]float64{row.XYZ[2], row.XYZ[1], row.XYZ[0]}
	v := geometry.ToIndex(geometry.WorldToVoxel(world, g))
	return models.VoxelCoordinate(
		v[0]+r.Shift[2],
		v[1]+r.Shift[1],
		v[2]+r.Shift[0],
	), nil
}
