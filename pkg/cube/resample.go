package cube

import (
	"math"

	"scantamper/internal/models"
)

// Resample returns vol rescaled to shape with trilinear interpolation. Corner voxels
// of the input map onto corner voxels of the output.
func Resample(vol *models.Volume, shape models.Shape) *models.Volume {
	if vol.Shape == shape {
		return vol.Clone()
	}
	out := models.NewVolume(shape)

	zs := axisSamples(vol.Shape.Z, shape.Z)
	ys := axisSamples(vol.Shape.Y, shape.Y)
	xs := axisSamples(vol.Shape.X, shape.X)

	for z, sz := range zs {
		for y, sy := range ys {
			for x, sx := range xs {
				out.Set(z, y, x, trilinear(vol, sz, sy, sx))
			}
		}
	}
	return out
}

// sample is a position along one input axis: two neighbouring indices and the
// weight of the upper one.
type sample struct {
	lo, hi int
	t      float64
}

func axisSamples(in, out int) []sample {
	samples := make([]sample, out)
	scale := 0.0
	if out > 1 {
		scale = float64(in-1) / float64(out-1)
	}
	for i := range samples {
		pos := float64(i) * scale
		lo := int(math.Floor(pos))
		hi := min(lo+1, in-1)
		samples[i] = sample{lo: lo, hi: hi, t: pos - float64(lo)}
	}
	return samples
}

func trilinear(vol *models.Volume, z, y, x sample) float64 {
	lerp := func(a, b, t float64) float64 { return a + (b-a)*t }

	c00 := lerp(vol.At(z.lo, y.lo, x.lo), vol.At(z.lo, y.lo, x.hi), x.t)
	c01 := lerp(vol.At(z.lo, y.hi, x.lo), vol.At(z.lo, y.hi, x.hi), x.t)
	c10 := lerp(vol.At(z.hi, y.lo, x.lo), vol.At(z.hi, y.lo, x.hi), x.t)
	c11 := lerp(vol.At(z.hi, y.hi, x.lo), vol.At(z.hi, y.hi, x.hi), x.t)

	return lerp(lerp(c00, c01, y.t), lerp(c10, c11, y.t), z.t)
}
