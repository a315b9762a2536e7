// Package intensity maps voxel intensities between a scan's native range and the
// range a generative model expects.
//
// Three transforms are provided: a whole-volume standardization applied once per
// loaded scan, a fitted histogram equalization (Equalizer) and an affine mapping into
// the model range (NormalizationParams). Each has an inverse.
package intensity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"scantamper/internal/models"
)

// Stats are the moments removed by NormalizeGlobal.
type Stats struct {
	Mean float64
	Std  float64
}

// NormalizeGlobal standardizes vol in place to zero mean and unit variance and returns
// the removed moments. A constant volume has its mean removed only.
func NormalizeGlobal(vol *models.Volume) Stats {
	mean, std := stat.PopMeanStdDev(vol.Data, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	for i, v := range vol.Data {
		vol.Data[i] = (v - mean) / std
	}
	return Stats{Mean: mean, Std: std}
}

// Denormalize undoes NormalizeGlobal in place.
func (s Stats) Denormalize(vol *models.Volume) {
	for i, v := range vol.Data {
		vol.Data[i] = v*s.Std + s.Mean
	}
}

// Normalize applies the same standardization to another volume.
func (s Stats) Normalize(vol *models.Volume) {
	for i, v := range vol.Data {
		vol.Data[i] = (v - s.Mean) / s.Std
	}
}

// ErrDegenerateParams is returned for parameters with High == Low.
var ErrDegenerateParams = errors.New("intensity: normalization range is empty")

// NormalizationParams map equalized intensities into the model range:
//
//	model = (x - Center) / (High - Low)
//
// They are stored on disk as the 3-number array [Center, Low, High].
type NormalizationParams struct {
	Center float64
	Low    float64
	High   float64
}

// ParamsFromArray builds NormalizationParams from a [Center, Low, High] array.
func ParamsFromArray(a []float64) (NormalizationParams, error) {
	if len(a) != 3 {
		return NormalizationParams{}, fmt.Errorf("intensity: expected 3 normalization values, got %d", len(a))
	}
	p := NormalizationParams{Center: a[0], Low: a[1], High: a[2]}
	if p.High == p.Low {
		return NormalizationParams{}, ErrDegenerateParams
	}
	return p, nil
}

// Array returns the on-disk [Center, Low, High] representation.
func (p NormalizationParams) Array() []float64 {
	return []float64{p.Center, p.Low, p.High}
}

// ToModelRange maps vol into the model range in place.
func (p NormalizationParams) ToModelRange(vol *models.Volume) {
	scale := p.High - p.Low
	for i, v := range vol.Data {
		vol.Data[i] = (v - p.Center) / scale
	}
}

// FromModelRange is the inverse of ToModelRange.
func (p NormalizationParams) FromModelRange(vol *models.Volume) {
	scale := p.High - p.Low
	for i, v := range vol.Data {
		vol.Data[i] = v*scale + p.Center
	}
}

// Clamp limits every voxel of vol to [lo, hi].
func Clamp(vol *models.Volume, lo, hi float64) {
	for i, v := range vol.Data {
		vol.Data[i] = math.Min(math.Max(v, lo), hi)
	}
}

// RepairOverflow fixes implausible intensities after de-equalization.
//
// Voxels above ceiling are visited in scan order and replaced by the mean of the
// window^3 neighbourhood around them, taken from the partially repaired volume and
// padded with floor outside it. Voxels below floor are then set to floor.
// It returns the number of voxels replaced by a neighbourhood mean.
func RepairOverflow(vol *models.Volume, ceiling, floor float64, window int) int {
	half := window / 2
	repaired := 0
	for z := 0; z < vol.Shape.Z; z++ {
		for y := 0; y < vol.Shape.Y; y++ {
			for x := 0; x < vol.Shape.X; x++ {
				if vol.At(z, y, x) <= ceiling {
					continue
				}
				sum := 0.0
				for dz := -half; dz < window-half; dz++ {
					for dy := -half; dy < window-half; dy++ {
						for dx := -half; dx < window-half; dx++ {
							if vol.Contains(z+dz, y+dy, x+dx) {
								sum += vol.At(z+dz, y+dy, x+dx)
							} else {
								sum += floor
							}
						}
					}
				}
				vol.Set(z, y, x, sum/float64(window*window*window))
				repaired++
			}
		}
	}
	for i, v := range vol.Data {
		if v < floor {
			vol.Data[i] = floor
		}
	}
	return repaired
}
