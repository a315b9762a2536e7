package blend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"scantamper/internal/models"
	"scantamper/pkg/cube"
)

func defaultOptions() Options {
	return Options{
		ExtentFactor:      1.3,
		KernelSize:        3,
		SigmoidCenter:     -700,
		SigmoidWidth:      70,
		BackgroundCeiling: -600,
		CopyNoiseCeiling:  -800,
		NoiseScale:        0.6,
		NoiseCoarsening:   2,
		ReferenceLocation: [3]float64{0.5, 0.43, 0.27},
		Fill:              -1000,
		Seed:              7,
	}
}

func TestPaste(t *testing.T) {
	scan := models.NewVolume(models.Shape{Z: 8, Y: 8, X: 8})
	c := models.NewFilledVolume(models.Shape{Z: 2, Y: 2, X: 2}, 5)
	Paste(scan, c, [3]int{4, 4, 4})

	assert.Equal(t, 5.0, scan.At(3, 3, 3))
	assert.Equal(t, 5.0, scan.At(4, 4, 4))
	assert.Equal(t, 0.0, scan.At(5, 5, 5))
}

func TestKernel(t *testing.T) {
	shape := models.Shape{Z: 13, Y: 13, X: 13}
	k := Kernel(shape, 3)

	assert.InDelta(t, 1.0, k.At(6, 6, 6), 1e-12)
	assert.InDelta(t, k.At(0, 6, 6), k.At(12, 6, 6), 1e-12)
	assert.Less(t, k.At(0, 0, 0), k.At(3, 3, 3))
	assert.Less(t, k.At(3, 3, 3), k.At(6, 6, 6))
	assert.LessOrEqual(t, floatsMax(k.Data), 1.0+1e-12)
}

func TestExtendedShape(t *testing.T) {
	assert.Equal(t, models.Shape{Z: 41, Y: 41, X: 41}, ExtendedShape(models.Shape{Z: 13, Y: 32, X: 32}, 1.3))
	assert.Equal(t, models.Shape{Z: 4, Y: 4, X: 4}, ExtendedShape(models.Shape{Z: 4, Y: 2, X: 1}, 0.5))
}

func TestTouchUpBlendsPastedCube(t *testing.T) {
	shape := models.Shape{Z: 40, Y: 40, X: 40}
	scan := models.NewFilledVolume(shape, -1000)
	anchor := [3]int{20, 20, 20}
	cubeShape := models.Shape{Z: 10, Y: 10, X: 10}
	o := defaultOptions()

	ext := ExtendedShape(cubeShape, o.ExtentFactor)
	before := cube.Extract(scan, anchor, ext, o.Fill)
	Paste(scan, models.NewFilledVolume(cubeShape, 100), anchor)

	TouchUp(scan, before, anchor, cubeShape, o)

	assert.InDelta(t, 100, scan.At(20, 20, 20), 0.5)
	// never darker than the host
	for _, v := range scan.Data {
		assert.GreaterOrEqual(t, v, -1000.0)
	}
	// outside the touch-up region nothing changes
	assert.Equal(t, -1000.0, scan.At(0, 0, 0))
	assert.Equal(t, -1000.0, scan.At(39, 39, 39))
}

func TestTouchUpCopyNoise(t *testing.T) {
	shape := models.Shape{Z: 30, Y: 30, X: 30}
	scan := models.NewFilledVolume(shape, -1000)
	for i := range scan.Data {
		scan.Data[i] += float64(i % 7)
	}
	anchor := [3]int{15, 15, 15}
	cubeShape := models.Shape{Z: 6, Y: 6, X: 6}
	o := defaultOptions()
	o.CopyNoise = true

	ext := ExtendedShape(cubeShape, o.ExtentFactor)
	before := cube.Extract(scan, anchor, ext, o.Fill)
	Paste(scan, models.NewFilledVolume(cubeShape, 40), anchor)
	TouchUp(scan, before, anchor, cubeShape, o)

	assert.Greater(t, scan.At(15, 15, 15), 0.0)
}

func TestCopiedNoiseIsZeroMean(t *testing.T) {
	scan := models.NewFilledVolume(models.Shape{Z: 20, Y: 20, X: 20}, -900)
	for i := range scan.Data {
		if i%5 == 0 {
			scan.Data[i] = 300
		}
		if i%3 == 0 {
			scan.Data[i] -= 20
		}
	}
	noise := copiedNoise(scan, models.Shape{Z: 8, Y: 8, X: 8}, defaultOptions())

	assert.InDelta(t, 0, stat.Mean(noise.Data, nil), 1e-9)
	assert.Less(t, floatsMax(noise.Data), 100.0)
}

func TestGaussianNoiseReproducible(t *testing.T) {
	shape := models.Shape{Z: 9, Y: 9, X: 9}
	o := defaultOptions()

	a := gaussianNoise(shape, 20, o)
	b := gaussianNoise(shape, 20, o)
	require.Equal(t, shape, a.Shape)
	assert.Equal(t, a.Data, b.Data)
	assert.Greater(t, stat.StdDev(a.Data, nil), 0.0)

	zero := gaussianNoise(shape, 0, o)
	assert.Equal(t, 0.0, floatsMax(zero.Data))
}

func TestTouchUpKeepsDenseVoxels(t *testing.T) {
	o := defaultOptions()
	shape := models.Shape{Z: 4, Y: 4, X: 4}
	ext := ExtendedShape(shape, o.ExtentFactor)
	before := models.NewFilledVolume(ext, -1000)
	anchor := [3]int{8, 8, 8}

	run := func(value float64) float64 {
		scan := models.NewFilledVolume(models.Shape{Z: 16, Y: 16, X: 16}, -1000)
		Paste(scan, models.NewFilledVolume(shape, value), anchor)
		TouchUp(scan, before, anchor, shape, o)
		return scan.At(8, 8, 8)
	}

	// a tissue-like voxel at the cube center stays close to its synthesized value
	assert.InDelta(t, 40, run(40), 5)
	// an air-like synthesized voxel defers to the host
	assert.InDelta(t, -1000, run(-1000), 1e-9)
}

func TestInUnits(t *testing.T) {
	o := defaultOptions().InUnits(-500, 100)
	assert.InDelta(t, -2.0, o.SigmoidCenter, 1e-12)
	assert.InDelta(t, 0.7, o.SigmoidWidth, 1e-12)
	assert.InDelta(t, -1.0, o.BackgroundCeiling, 1e-12)
	assert.InDelta(t, -3.0, o.CopyNoiseCeiling, 1e-12)
	assert.Equal(t, -1000.0, o.Fill)
}

func floatsMax(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}
