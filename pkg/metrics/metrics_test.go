package metrics

import (
	"math"
	"testing"
)

func ramp(n int, scale, offset float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(i)*scale + offset
	}
	return v
}

func TestIdenticalCubes(t *testing.T) {
	a := ramp(64, 10, -500)
	c := Compare(a, a)

	if c.RMSE != 0 {
		t.Errorf("RMSE = %v, want 0", c.RMSE)
	}
	if math.Abs(c.SSIM-1) > 1e-9 {
		t.Errorf("SSIM = %v, want 1", c.SSIM)
	}
	if c.EntropyDiff != 0 {
		t.Errorf("EntropyDiff = %v, want 0", c.EntropyDiff)
	}
	if !(c.MI > 10) {
		t.Errorf("MI = %v, want a large value", c.MI)
	}
}

func TestRMSE(t *testing.T) {
	a := []float64{0, 0, 0, 0}
	b := []float64{2, -2, 2, -2}
	if got := RMSE(a, b); got != 2 {
		t.Errorf("RMSE = %v, want 2", got)
	}
	if got := RMSE(a, b[:3]); got != 0 {
		t.Errorf("RMSE of mismatched lengths = %v, want 0", got)
	}
}

func TestSSIMDropsWithDistortion(t *testing.T) {
	a := ramp(100, 1, 0)
	b := make([]float64, len(a))
	for i := range a {
		b[i] = a[len(a)-1-i]
	}
	if s := SSIM(a, b); s >= 0.5 {
		t.Errorf("SSIM of reversed ramp = %v, want < 0.5", s)
	}
}

func TestEntropy(t *testing.T) {
	if h := Entropy([]float64{3, 3, 3}); h != 0 {
		t.Errorf("entropy of constant = %v, want 0", h)
	}
	// two equally likely values give one bit
	if h := Entropy([]float64{0, 1, 0, 1}); math.Abs(h-1) > 1e-12 {
		t.Errorf("entropy = %v, want 1", h)
	}
}

func TestMutualInformationIndependent(t *testing.T) {
	a := []float64{1, -1, 1, -1}
	b := []float64{1, 1, -1, -1}
	if mi := MutualInformation(a, b); math.Abs(mi) > 1e-12 {
		t.Errorf("MI of uncorrelated = %v, want 0", mi)
	}
}
