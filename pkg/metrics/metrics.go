// Package metrics measures how far a tampered region drifted from the clean one.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Comparison holds similarity metrics between a clean cube and its tampered
// replacement. They are reported per tampered instance so a batch can be audited.
type Comparison struct {
	// MI (Mutual Information) under a Gaussian approximation. Higher values
	// indicate a stronger statistical dependency between the two cubes.
	MI float64 `json:"mi"`

	// EntropyDiff is the absolute difference in Shannon entropy. Large values
	// mean the tampered cube has a very different intensity distribution.
	EntropyDiff float64 `json:"entropyDiff"`

	// RMSE (Root Mean Square Error) of voxel intensities.
	RMSE float64 `json:"rmse"`

	// SSIM (Structural Similarity Index) computed globally over the cube, using
	// the clean cube's intensity range as the dynamic range. 1 means identical.
	SSIM float64 `json:"ssim"`
}

// Compare computes all metrics. Slices of different length compare as zero.
func Compare(clean, tampered []float64) Comparison {
	return Comparison{
		MI:          MutualInformation(clean, tampered),
		EntropyDiff: EntropyDifference(clean, tampered),
		RMSE:        RMSE(clean, tampered),
		SSIM:        SSIM(clean, tampered),
	}
}

// MutualInformation approximates MI as 0.5·log(var(X)·var(Y) / (var(X)·var(Y) − cov²)).
func MutualInformation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	varA := stat.Variance(a, nil)
	varB := stat.Variance(b, nil)
	cov := stat.Covariance(a, b, nil)
	if varA <= 0 || varB <= 0 {
		return 0
	}
	det := varA*varB - cov*cov
	if det <= 0 {
		// perfectly correlated
		return math.Inf(1)
	}
	return 0.5 * math.Log(varA*varB/det)
}

// RMSE is the root mean square difference.
func RMSE(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2) / math.Sqrt(float64(len(a)))
}

// SSIM is the global structural similarity index.
func SSIM(a, b []float64) float64 {
	const k1, k2 = 0.01, 0.03
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}

	l := floats.Max(a) - floats.Min(a)
	if l == 0 {
		l = 1
	}
	c1 := (k1 * l) * (k1 * l)
	c2 := (k2 * l) * (k2 * l)

	muA, muB := stat.Mean(a, nil), stat.Mean(b, nil)
	num := (2*muA*muB + c1) * (2*stat.Covariance(a, b, nil) + c2)
	den := (muA*muA + muB*muB + c1) * (stat.Variance(a, nil) + stat.Variance(b, nil) + c2)
	if den == 0 {
		return 0
	}
	return num / den
}

// EntropyDifference is |H(a) − H(b)|.
func EntropyDifference(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return math.Abs(Entropy(a) - Entropy(b))
}

// Entropy is the Shannon entropy in bits over a 256-bin histogram spanning the
// data range.
func Entropy(data []float64) float64 {
	const numBins = 256
	if len(data) == 0 {
		return 0
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	hist := make([]float64, numBins)
	width := (hi - lo) / numBins
	for _, v := range data {
		bin := min(max(int((v-lo)/width), 0), numBins-1)
		hist[bin]++
	}

	n := float64(len(data))
	h := 0.0
	for _, c := range hist {
		if c > 0 {
			p := c / n
			h -= p * math.Log2(p)
		}
	}
	return h
}
