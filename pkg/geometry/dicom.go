package geometry

import (
	"math"

	"scantamper/internal/models"
)

// FromDICOM builds a canonical geometry from the attributes of the first slice of a series.
//
// imagePosition and the direction cosines are in DICOM patient order (x, y, z);
// pixelSpacing is (row spacing, column spacing) and sliceSpacing the distance between
// consecutive slices. The result is re-ordered to (z, y, x).
func FromDICOM(imagePosition, rowCosine, colCosine [3]float64, pixelSpacing [2]float64, sliceSpacing float64) models.Geometry {
	normal := cross(rowCosine, colCosine)

	// Columns of the orientation are the world directions of voxel axes z, y, x.
	// Voxel x walks along a row (row cosine), voxel y down a column (column cosine).
	var o [3][3]float64
	for i, axis := range [3][3]float64{normal, colCosine, rowCosine} {
		zyx := reverse(axis)
		for r := 0; r < 3; r++ {
			o[r][i] = zyx[r]
		}
	}

	return models.Geometry{
		Spacing:     [3]float64{math.Abs(sliceSpacing), pixelSpacing[0], pixelSpacing[1]},
		Origin:      reverse(imagePosition),
		Orientation: o,
	}
}

func reverse(v [3]float64) [3]float64 {
	return [3]float64{v[2], v[1], v[0]}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
