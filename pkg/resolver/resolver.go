// Package resolver determines where in a scan to tamper.
//
// Two variants share the Resolver contract: LabelResolver reads a coordinate
// stored in a companion label record next to the scan, and AnnotationResolver
// looks up a world-space target in an annotation table and converts it to voxel
// space with the scan's own geometry. config.Resolver.Mode selects one.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"scantamper/internal/models"
	"scantamper/pkg/annotations"
	"scantamper/pkg/config"
)

// Resolver produces the tamper coordinate of a scan.
type Resolver interface {
	Resolve(ctx context.Context, scanPath string) (models.Coordinate, error)
}

// GeometrySource provides the geometry of a scan without the caller loading it.
type GeometrySource interface {
	Geometry(scanPath string) (models.Geometry, error)
}

// NotFoundError reports a missing label record or annotation row.
type NotFoundError struct {
	ScanPath string
	Source   string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no coordinate for %s in %s: %v", e.ScanPath, e.Source, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ParseError reports a scan path from which no identifier can be derived.
type ParseError struct {
	ScanPath string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot derive identifier from %s: %s", e.ScanPath, e.Reason)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the resolver selected by cfg.Resolver.Mode. The returned closer
// releases the annotation table, if any.
func New(cfg *config.Config, geoms GeometrySource, logger *slog.Logger) (Resolver, io.Closer, error) {
	rc := cfg.Resolver
	switch rc.Mode {
	case "label":
		space, err := models.ParseCoordinateSpace(rc.LabelSpace)
		if err != nil {
			return nil, nil, err
		}
		return &LabelResolver{
			ScanSuffix:  rc.ScanSuffix,
			LabelSuffix: rc.LabelSuffix,
			Space:       space,
		}, nopCloser{}, nil

	case "annotation":
		if rc.Annotations == "" {
			return nil, nil, errors.New("resolver: annotation mode requires an annotation table")
		}
		table, closer, err := annotations.Open(rc.Annotations)
		if err != nil {
			return nil, nil, fmt.Errorf("resolver: opening annotations: %w", err)
		}
		logger.Info("opened annotation table", "path", rc.Annotations)
		return &AnnotationResolver{
			Table:    table,
			Geometry: geoms,
			Shift:    rc.Shift,
			Source:   rc.Annotations,
		}, closer, nil
	}
	return nil, nil, fmt.Errorf("resolver: unknown mode %q", rc.Mode)
}
