package intensity

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"scantamper/internal/models"
)

// ErrEmptySample is returned when fitting an equalizer on no data.
var ErrEmptySample = errors.New("intensity: cannot fit equalizer on an empty sample")

// Equalizer is a histogram equalization fitted on reference data. It maps an
// intensity to its scaled cumulative frequency and back by piecewise linear
// interpolation between knots. Knots are kept strictly increasing on both axes so
// the mapping is invertible; values outside the fitted range are clamped.
type Equalizer struct {
	Bins []float64 `yaml:"bins"`
	CDF  []float64 `yaml:"cdf"`
}

// FitEqualizer builds an equalizer from a reference sample using nbins histogram
// bins whose cumulative counts are scaled to [0, levels-1].
func FitEqualizer(sample []float64, nbins int, levels float64) (*Equalizer, error) {
	if len(sample) == 0 {
		return nil, ErrEmptySample
	}
	if nbins < 1 {
		return nil, fmt.Errorf("intensity: need at least one bin, got %d", nbins)
	}

	x := make([]float64, len(sample))
	copy(x, sample)
	sort.Float64s(x)

	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		hi = lo + 1
	}
	dividers := make([]float64, nbins+1)
	floats.Span(dividers, lo, hi)
	dividers[nbins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, x, nil)

	eq := &Equalizer{
		Bins: []float64{dividers[0]},
		CDF:  []float64{0},
	}
	total := floats.Sum(counts)
	cum := 0.0
	for i, c := range counts {
		cum += c
		level := (levels - 1) * cum / total
		if level > eq.CDF[len(eq.CDF)-1] {
			eq.Bins = append(eq.Bins, dividers[i+1])
			eq.CDF = append(eq.CDF, level)
		}
	}
	return eq, nil
}

// Equalize remaps vol in place.
func (e *Equalizer) Equalize(vol *models.Volume) {
	for i, v := range vol.Data {
		vol.Data[i] = interp(v, e.Bins, e.CDF)
	}
}

// Dequalize is the inverse of Equalize.
func (e *Equalizer) Dequalize(vol *models.Volume) {
	for i, v := range vol.Data {
		vol.Data[i] = interp(v, e.CDF, e.Bins)
	}
}

// Validate checks that the knots describe an invertible mapping.
func (e *Equalizer) Validate() error {
	if len(e.Bins) < 2 || len(e.Bins) != len(e.CDF) {
		return fmt.Errorf("intensity: equalizer needs matching knot lists of length >= 2, got %d and %d", len(e.Bins), len(e.CDF))
	}
	for i := 1; i < len(e.Bins); i++ {
		if e.Bins[i] <= e.Bins[i-1] || e.CDF[i] <= e.CDF[i-1] {
			return fmt.Errorf("intensity: equalizer knots not strictly increasing at %d", i)
		}
	}
	return nil
}

// LoadEqualizer reads an equalizer saved with Save.
func LoadEqualizer(path string) (*Equalizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading equalizer: %w", err)
	}
	var eq Equalizer
	if err := yaml.Unmarshal(data, &eq); err != nil {
		return nil, fmt.Errorf("error parsing equalizer: %w", err)
	}
	if err := eq.Validate(); err != nil {
		return nil, err
	}
	return &eq, nil
}

// Save writes the equalizer as YAML.
func (e *Equalizer) Save(path string) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("error marshaling equalizer: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing equalizer: %w", err)
	}
	return nil
}

// interp evaluates the piecewise linear function through (xs[i], ys[i]) at v,
// clamping outside [xs[0], xs[n-1]].
func interp(v float64, xs, ys []float64) float64 {
	n := len(xs)
	if v <= xs[0] {
		return ys[0]
	}
	if v >= xs[n-1] {
		return ys[n-1]
	}
	i := sort.SearchFloat64s(xs, v)
	if xs[i] == v {
		return ys[i]
	}
	t := (v - xs[i-1]) / (xs[i] - xs[i-1])
	return ys[i-1] + t*(ys[i]-ys[i-1])
}
