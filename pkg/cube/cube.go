// Package cube cuts fixed-shape sub-volumes out of a scan and writes them back.
//
// A cube is anchored at a voxel index: its first voxel is anchor - shape/2 along each
// axis (integer division), so odd shapes are centered exactly and even shapes have one
// more voxel after the anchor than before it.
package cube

import (
	"math"

	"scantamper/internal/models"
)

// Start returns the voxel index of the first voxel of a cube of the given shape at anchor.
func Start(anchor [3]int, shape models.Shape) [3]int {
	d := shape.Dims()
	return [3]int{anchor[0] - d[0]/2, anchor[1] - d[1]/2, anchor[2] - d[2]/2}
}

// Inside reports whether the whole footprint of a cube at anchor lies within vol.
func Inside(vol *models.Volume, anchor [3]int, shape models.Shape) bool {
	s := Start(anchor, shape)
	d := shape.Dims()
	v := vol.Shape.Dims()
	for i := 0; i < 3; i++ {
		if s[i] < 0 || s[i]+d[i] > v[i] {
			return false
		}
	}
	return true
}

// Extract returns a copy of the region of vol of exactly the given shape anchored at
// anchor. Positions outside vol are set to fill.
func Extract(vol *models.Volume, anchor [3]int, shape models.Shape, fill float64) *models.Volume {
	out := models.NewFilledVolume(shape, fill)
	lo, hi, ok := overlap(vol.Shape, anchor, shape)
	if !ok {
		return out
	}
	s := Start(anchor, shape)

	rowLen := hi[2] - lo[2]
	for z := lo[0]; z < hi[0]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			src := vol.Index(z, y, lo[2])
			dst := out.Index(z-s[0], y-s[1], lo[2]-s[2])
			copy(out.Data[dst:dst+rowLen], vol.Data[src:src+rowLen])
		}
	}
	return out
}

// Insert overwrites the region of vol covered by c anchored at anchor. Voxels of c
// falling outside vol are dropped; vol is never resized.
func Insert(vol *models.Volume, c *models.Volume, anchor [3]int) {
	lo, hi, ok := overlap(vol.Shape, anchor, c.Shape)
	if !ok {
		return
	}
	s := Start(anchor, c.Shape)

	rowLen := hi[2] - lo[2]
	for z := lo[0]; z < hi[0]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			dst := vol.Index(z, y, lo[2])
			src := c.Index(z-s[0], y-s[1], lo[2]-s[2])
			copy(vol.Data[dst:dst+rowLen], c.Data[src:src+rowLen])
		}
	}
}

// overlap returns the half-open voxel range of vol covered by a cube at anchor.
func overlap(volShape models.Shape, anchor [3]int, shape models.Shape) (lo, hi [3]int, ok bool) {
	s := Start(anchor, shape)
	d := shape.Dims()
	v := volShape.Dims()
	for i := 0; i < 3; i++ {
		lo[i] = max(s[i], 0)
		hi[i] = min(s[i]+d[i], v[i])
		if lo[i] >= hi[i] {
			return lo, hi, false
		}
	}
	return lo, hi, true
}

// ScaledShape converts a physical cube size (mm, z/y/x) into voxel counts for a scan
// with the given spacing, rounding to the nearest voxel. Every dimension is at least 1.
func ScaledShape(physical [3]float64, spacing [3]float64) models.Shape {
	var d [3]int
	for i := 0; i < 3; i++ {
		d[i] = max(int(math.Round(physical[i]/spacing[i])), 1)
	}
	return models.ShapeOf(d)
}

// ZeroRegion clears the box [lims[0][0], lims[0][1]) x [lims[1][0], lims[1][1]) x
// [lims[2][0], lims[2][1]) of vol, clipped to its bounds. An empty range on any
// axis leaves vol untouched.
func ZeroRegion(vol *models.Volume, lims [3][2]int) {
	d := vol.Shape.Dims()
	var lo, hi [3]int
	for i := 0; i < 3; i++ {
		lo[i] = max(lims[i][0], 0)
		hi[i] = min(lims[i][1], d[i])
		if lo[i] >= hi[i] {
			return
		}
	}
	for z := lo[0]; z < hi[0]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			row := vol.Index(z, y, 0)
			clear(vol.Data[row+lo[2] : row+hi[2]])
		}
	}
}
