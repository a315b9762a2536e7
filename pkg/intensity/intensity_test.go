package intensity

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"scantamper/internal/models"
)

func ctLikeSample(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		switch rng.Intn(3) {
		case 0:
			out[i] = -1000 + rng.NormFloat64()*20 // air
		case 1:
			out[i] = -800 + rng.NormFloat64()*60 // lung parenchyma
		default:
			out[i] = 40 + rng.NormFloat64()*80 // soft tissue
		}
	}
	return out
}

func TestNormalizeGlobal(t *testing.T) {
	vol := &models.Volume{Shape: models.Shape{Z: 10, Y: 10, X: 10}, Data: ctLikeSample(1000, 1)}
	original := vol.Clone()

	s := NormalizeGlobal(vol)
	mean, std := stat.PopMeanStdDev(vol.Data, nil)
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, 1, std, 1e-9)

	s.Denormalize(vol)
	assert.InDeltaSlice(t, original.Data, vol.Data, 1e-9)
}

func TestNormalizeGlobalConstantVolume(t *testing.T) {
	vol := models.NewFilledVolume(models.Shape{Z: 4, Y: 4, X: 4}, 0)
	s := NormalizeGlobal(vol)

	assert.Equal(t, Stats{Mean: 0, Std: 1}, s)
	for _, v := range vol.Data {
		require.Equal(t, 0.0, v)
	}
}

func TestEqualizerRoundTrip(t *testing.T) {
	eq, err := FitEqualizer(ctLikeSample(20000, 2), 1000, 10000)
	require.NoError(t, err)
	require.NoError(t, eq.Validate())

	lo, hi := eq.Bins[0], eq.Bins[len(eq.Bins)-1]
	rng := rand.New(rand.NewSource(3))
	vol := models.NewVolume(models.Shape{Z: 8, Y: 8, X: 8})
	for i := range vol.Data {
		vol.Data[i] = lo + rng.Float64()*(hi-lo)
	}
	original := vol.Clone()

	eq.Equalize(vol)
	for _, v := range vol.Data {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 9999.0)
	}
	eq.Dequalize(vol)

	assert.InDeltaSlice(t, original.Data, vol.Data, 1e-6)
}

func TestEqualizerIsMonotone(t *testing.T) {
	eq, err := FitEqualizer(ctLikeSample(5000, 4), 256, 256)
	require.NoError(t, err)

	vol := models.NewVolume(models.Shape{Z: 1, Y: 1, X: 200})
	for i := range vol.Data {
		vol.Data[i] = -1100 + float64(i)*8
	}
	eq.Equalize(vol)
	for i := 1; i < len(vol.Data); i++ {
		assert.GreaterOrEqual(t, vol.Data[i], vol.Data[i-1])
	}
}

func TestEqualizerSaveLoad(t *testing.T) {
	eq, err := FitEqualizer(ctLikeSample(2000, 5), 64, 1000)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "equalization.yaml")
	require.NoError(t, eq.Save(path))

	loaded, err := LoadEqualizer(path)
	require.NoError(t, err)
	assert.Equal(t, eq.Bins, loaded.Bins)
	assert.Equal(t, eq.CDF, loaded.CDF)
}

func TestFitEqualizerEmpty(t *testing.T) {
	_, err := FitEqualizer(nil, 10, 10)
	assert.ErrorIs(t, err, ErrEmptySample)
}

func TestModelRangeRoundTrip(t *testing.T) {
	p, err := ParamsFromArray([]float64{5000, 0, 10000})
	require.NoError(t, err)

	vol := &models.Volume{Shape: models.Shape{Z: 1, Y: 1, X: 3}, Data: []float64{0, 5000, 10000}}
	p.ToModelRange(vol)
	assert.InDeltaSlice(t, []float64{-0.5, 0, 0.5}, vol.Data, 1e-12)

	p.FromModelRange(vol)
	assert.InDeltaSlice(t, []float64{0, 5000, 10000}, vol.Data, 1e-9)
}

func TestParamsFromArrayErrors(t *testing.T) {
	_, err := ParamsFromArray([]float64{1, 2})
	assert.Error(t, err)

	_, err = ParamsFromArray([]float64{1, 2, 2})
	assert.ErrorIs(t, err, ErrDegenerateParams)
}

func TestClamp(t *testing.T) {
	vol := &models.Volume{Shape: models.Shape{Z: 1, Y: 1, X: 4}, Data: []float64{-3, -0.2, 0.4, 9}}
	Clamp(vol, -0.5, 0.5)
	assert.Equal(t, []float64{-0.5, -0.2, 0.4, 0.5}, vol.Data)
}

func TestRepairOverflow(t *testing.T) {
	vol := models.NewFilledVolume(models.Shape{Z: 7, Y: 7, X: 7}, 100)
	vol.Set(3, 3, 3, 5000)
	vol.Set(0, 0, 0, -4000)

	repaired := RepairOverflow(vol, 2000, -1000, 5)
	assert.Equal(t, 1, repaired)

	// 124 neighbours at 100 plus the voxel itself
	assert.InDelta(t, (124*100.0+5000)/125, vol.At(3, 3, 3), 1e-9)
	assert.Equal(t, -1000.0, vol.At(0, 0, 0))
	for _, v := range vol.Data {
		assert.LessOrEqual(t, v, 2000.0)
		assert.GreaterOrEqual(t, v, -1000.0)
	}
}

func TestRepairOverflowUsesFloorPadding(t *testing.T) {
	vol := models.NewFilledVolume(models.Shape{Z: 1, Y: 1, X: 1}, 3000)
	RepairOverflow(vol, 2000, -1000, 3)

	// 26 padded neighbours at the floor and the voxel itself
	want := (26*-1000.0 + 3000) / 27
	assert.True(t, math.Abs(vol.At(0, 0, 0)-want) < 1e-9)
}
