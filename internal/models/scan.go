package models

import (
	"fmt"
	"path/filepath"
)

// Geometry relates voxel indices to world (physical) coordinates.
// All vectors are ordered (z, y, x).
type Geometry struct {
	// Spacing is the physical size of one voxel along each axis, in mm.
	Spacing [3]float64 `yaml:"spacing"`

	// Origin is the world position of voxel (0, 0, 0).
	Origin [3]float64 `yaml:"origin"`

	// Orientation columns are the world directions of the voxel axes.
	Orientation [3][3]float64 `yaml:"orientation"`
}

// IdentityOrientation is the orientation of an axis-aligned scan.
var IdentityOrientation = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// DefaultGeometry is unit spacing, zero origin and identity orientation.
func DefaultGeometry() Geometry {
	return Geometry{
		Spacing:     [3]float64{1, 1, 1},
		Orientation: IdentityOrientation,
	}
}

// Scan is a loaded volumetric image together with its geometry.
type Scan struct {
	Volume *Volume
	Geometry

	// Format is the storage format the scan was loaded from.
	Format string

	// Path is the location the scan was loaded from.
	Path string

	// Raw carries format specific per-slice metadata needed to re-encode the scan.
	Raw any
}

// CoordinateSpace tags a Coordinate as voxel indices or world positions.
type CoordinateSpace int

const (
	VoxelSpace CoordinateSpace = iota
	WorldSpace
)

func (s CoordinateSpace) String() string {
	switch s {
	case VoxelSpace:
		return "voxel"
	case WorldSpace:
		return "world"
	default:
		return "unknown"
	}
}

// ParseCoordinateSpace maps "voxel" / "world" to a CoordinateSpace.
func ParseCoordinateSpace(s string) (CoordinateSpace, error) {
	switch s {
	case "voxel", "vox":
		return VoxelSpace, nil
	case "world":
		return WorldSpace, nil
	}
	return VoxelSpace, fmt.Errorf("unknown coordinate space %q", s)
}

// Coordinate is a tamper target, either in voxel or world space.
type Coordinate struct {
	Space CoordinateSpace
	Voxel [3]int
	World [3]float64
}

// VoxelCoordinate builds a voxel-space coordinate.
func VoxelCoordinate(z, y, x int) Coordinate {
	return Coordinate{Space: VoxelSpace, Voxel: [3]int{z, y, x}}
}

// WorldCoordinate builds a world-space coordinate.
func WorldCoordinate(z, y, x float64) Coordinate {
	return Coordinate{Space: WorldSpace, World: [3]float64{z, y, x}}
}

func (c Coordinate) String() string {
	if c.Space == WorldSpace {
		return fmt.Sprintf("world(%.2f, %.2f, %.2f)", c.World[0], c.World[1], c.World[2])
	}
	return fmt.Sprintf("voxel(%d, %d, %d)", c.Voxel[0], c.Voxel[1], c.Voxel[2])
}

// Instance pairs a scan with its resolved tamper target.
type Instance struct {
	ScanPath   string
	Coordinate Coordinate
}

// SaveFilename is the output name for the tampered scan: prefix plus the source base name.
func (i Instance) SaveFilename(prefix string) string {
	return prefix + filepath.Base(i.ScanPath)
}
