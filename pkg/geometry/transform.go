// Package geometry maps between world (physical) coordinates and voxel indices.
//
// A scan's geometry is the affine relation
//
//	world = origin + O · diag(spacing) · voxel
//
// where O is the orientation matrix whose columns are the world directions of the
// voxel axes. Every vector is ordered (z, y, x). The transform never clips: points
// outside the volume map to out-of-range voxel positions and it is up to the caller
// to handle them.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"scantamper/internal/models"
)

var (
	// ErrNonPositiveSpacing is returned for spacing components <= 0.
	ErrNonPositiveSpacing = errors.New("geometry: spacing must be strictly positive")

	// ErrSingularOrientation is returned when the orientation cannot be inverted.
	ErrSingularOrientation = errors.New("geometry: orientation matrix is singular")
)

// Validate checks that the geometry describes an invertible transform.
func Validate(g models.Geometry) error {
	for i, s := range g.Spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: axis %d has %v", ErrNonPositiveSpacing, i, s)
		}
	}
	if det := mat.Det(orientation(g)); math.Abs(det) < 1e-12 {
		return ErrSingularOrientation
	}
	return nil
}

// VoxelToWorld maps a (possibly fractional) voxel position to world space.
func VoxelToWorld(voxel [3]float64, g models.Geometry) [3]float64 {
	var w mat.VecDense
	w.MulVec(affine(g), mat.NewVecDense(3, voxel[:]))
	return [3]float64{
		w.AtVec(0) + g.Origin[0],
		w.AtVec(1) + g.Origin[1],
		w.AtVec(2) + g.Origin[2],
	}
}

// WorldToVoxel maps a world position to a fractional voxel position.
// The geometry must be valid; a singular orientation yields NaN components.
func WorldToVoxel(world [3]float64, g models.Geometry) [3]float64 {
	rel := mat.NewVecDense(3, []float64{
		world[0] - g.Origin[0],
		world[1] - g.Origin[1],
		world[2] - g.Origin[2],
	})
	var v mat.VecDense
	if err := v.SolveVec(affine(g), rel); err != nil {
		nan := math.NaN()
		return [3]float64{nan, nan, nan}
	}
	return [3]float64{v.AtVec(0), v.AtVec(1), v.AtVec(2)}
}

// ToIndex rounds a fractional voxel position to the nearest voxel index.
func ToIndex(voxel [3]float64) [3]int {
	return [3]int{
		int(math.Round(voxel[0])),
		int(math.Round(voxel[1])),
		int(math.Round(voxel[2])),
	}
}

// Resolve returns the voxel index a coordinate refers to in a scan with geometry g.
func Resolve(c models.Coordinate, g models.Geometry) [3]int {
	if c.Space == models.WorldSpace {
		return ToIndex(WorldToVoxel(c.World, g))
	}
	return c.Voxel
}

func orientation(g models.Geometry) *mat.Dense {
	o := g.Orientation
	return mat.NewDense(3, 3, []float64{
		o[0][0], o[0][1], o[0][2],
		o[1][0], o[1][1], o[1][2],
		o[2][0], o[2][1], o[2][2],
	})
}

// affine returns O · diag(spacing).
func affine(g models.Geometry) *mat.Dense {
	var a mat.Dense
	a.Mul(orientation(g), mat.NewDiagDense(3, g.Spacing[:]))
	return &a
}
