// Package blend writes a synthesized cube back into its host scan.
//
// Paste overwrites the cube footprint. TouchUp additionally blends an enlarged
// region around the cube with the untouched host, adding background-like noise so
// the seam and the noise texture match the surrounding tissue.
package blend

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"scantamper/internal/models"
	"scantamper/pkg/cube"
)

// Paste overwrites the footprint of c anchored at anchor.
func Paste(scan *models.Volume, c *models.Volume, anchor [3]int) {
	cube.Insert(scan, c, anchor)
}

// Options controls TouchUp. Intensity thresholds and Fill are in the units of the
// scan being blended; InUnits converts raw thresholds.
type Options struct {
	ExtentFactor      float64
	KernelSize        float64
	SigmoidCenter     float64
	SigmoidWidth      float64
	BackgroundCeiling float64
	CopyNoise         bool
	CopyNoiseCeiling  float64
	NoiseScale        float64
	NoiseCoarsening   float64
	ReferenceLocation [3]float64
	Fill              float64
	Seed              uint64
}

// InUnits converts the intensity thresholds of o, given in raw scan units, to a
// scan normalized with the given mean and standard deviation. Fill is already in
// normalized units and is left as is.
func (o Options) InUnits(mean, std float64) Options {
	if std == 0 {
		std = 1
	}
	o.SigmoidCenter = (o.SigmoidCenter - mean) / std
	o.SigmoidWidth /= std
	o.BackgroundCeiling = (o.BackgroundCeiling - mean) / std
	o.CopyNoiseCeiling = (o.CopyNoiseCeiling - mean) / std
	return o
}

// ExtendedShape is the cubic touch-up region for a cube of the given shape.
func ExtendedShape(shape models.Shape, factor float64) models.Shape {
	n := int(float64(shape.Max()) * factor)
	n = max(n, shape.Max())
	return models.Shape{Z: n, Y: n, X: n}
}

// TouchUp blends the region around anchor after the synthesized cube has been
// pasted. before is the same region cut from the scan prior to pasting, with the
// shape returned by ExtendedShape; cubeShape is the shape of the pasted cube.
func TouchUp(scan, before *models.Volume, anchor [3]int, cubeShape models.Shape, o Options) {
	ext := before.Shape
	after := cube.Extract(scan, anchor, ext, o.Fill)

	center := [3]int{ext.Z / 2, ext.Y / 2, ext.X / 2}
	local := cube.Extract(before, center, cubeShape, o.Fill)
	bgStd := backgroundStd(local.Data, o.BackgroundCeiling)

	var noise *models.Volume
	if o.CopyNoise {
		noise = copiedNoise(scan, ext, o)
	} else {
		noise = gaussianNoise(ext, bgStd*o.NoiseScale, o)
	}

	weights := Kernel(ext, o.KernelSize)
	for i, v := range after.Data {
		w := weights.Data[i] * sigmoid((v-o.SigmoidCenter)/o.SigmoidWidth)
		orig := before.Data[i]
		after.Data[i] = math.Max(w*(v+noise.Data[i])+(1-w)*orig, orig)
	}
	cube.Insert(scan, after, anchor)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// backgroundStd is the standard deviation of the voxels below ceiling, or 0 when
// there are fewer than two.
func backgroundStd(data []float64, ceiling float64) float64 {
	var bg []float64
	for _, v := range data {
		if v < ceiling {
			bg = append(bg, v)
		}
	}
	if len(bg) < 2 {
		return 0
	}
	return stat.StdDev(bg, nil)
}

// copiedNoise cuts a region of the host at the reference location, flattens
// tissue to the background mean and removes the mean.
func copiedNoise(scan *models.Volume, shape models.Shape, o Options) *models.Volume {
	ref := [3]int{
		int(float64(scan.Shape.Z) * o.ReferenceLocation[0]),
		int(float64(scan.Shape.Y) * o.ReferenceLocation[1]),
		int(float64(scan.Shape.X) * o.ReferenceLocation[2]),
	}
	x := cube.Extract(scan, ref, shape, o.Fill)

	var bg []float64
	for _, v := range x.Data {
		if v < o.CopyNoiseCeiling {
			bg = append(bg, v)
		}
	}
	bgMean := 0.0
	if len(bg) > 0 {
		bgMean = stat.Mean(bg, nil)
	}
	for i, v := range x.Data {
		if v > o.CopyNoiseCeiling {
			x.Data[i] = bgMean
		}
	}
	mean := stat.Mean(x.Data, nil)
	x.Map(func(v float64) float64 { return v - mean })
	return x
}

// gaussianNoise draws white noise on a grid coarser by o.NoiseCoarsening and
// upsamples it, giving spatially correlated noise with roughly the given std.
func gaussianNoise(shape models.Shape, std float64, o Options) *models.Volume {
	if std <= 0 {
		return models.NewVolume(shape)
	}
	coarsening := math.Max(o.NoiseCoarsening, 1)
	coarse := models.Shape{
		Z: int(math.Ceil(float64(shape.Z)/coarsening)) + 1,
		Y: int(math.Ceil(float64(shape.Y)/coarsening)) + 1,
		X: int(math.Ceil(float64(shape.X)/coarsening)) + 1,
	}

	seed := o.Seed
	if seed == 0 {
		seed = uint64(rand.Int63())
	}
	dist := distuv.Normal{Mu: 0, Sigma: std, Src: rand.NewSource(seed)}

	grid := models.NewVolume(coarse)
	for i := range grid.Data {
		grid.Data[i] = dist.Rand()
	}
	return cube.Resample(grid, shape)
}

// Kernel is a separable tapering window over shape with maximum 1. Each axis is
// the difference of a standard normal CDF sampled over ±size standard deviations.
func Kernel(shape models.Shape, size float64) *models.Volume {
	kz, ky, kx := kernel1D(shape.Z, size), kernel1D(shape.Y, size), kernel1D(shape.X, size)

	out := models.NewVolume(shape)
	peak := 0.0
	for z := 0; z < shape.Z; z++ {
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				v := kz[z] * ky[y] * kx[x]
				out.Set(z, y, x, v)
				peak = math.Max(peak, v)
			}
		}
	}
	if peak > 0 {
		out.Map(func(v float64) float64 { return v / peak })
	}
	return out
}

func kernel1D(n int, size float64) []float64 {
	interval := (2*size + 1) / float64(n)
	lo := -size - interval/2
	step := (2*size + interval) / float64(n)

	k := make([]float64, n)
	prev := distuv.UnitNormal.CDF(lo)
	for i := range k {
		next := distuv.UnitNormal.CDF(lo + float64(i+1)*step)
		k[i] = next - prev
		prev = next
	}
	return k
}
