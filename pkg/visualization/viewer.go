// Package visualization renders scan volumes as grayscale slice images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"scantamper/internal/models"
)

// Viewer extracts and saves 2D slices of a volume. Intensities inside the
// window [Low, High] map linearly to the 16-bit gray range.
type Viewer struct {
	vol *models.Volume

	Low  float64
	High float64
}

// NewViewer creates a viewer windowed on the full intensity range of vol.
func NewViewer(vol *models.Volume) *Viewer {
	v := &Viewer{vol: vol}
	if len(vol.Data) > 0 {
		v.Low, v.High = floats.Min(vol.Data), floats.Max(vol.Data)
	}
	return v
}

// NewWindowedViewer creates a viewer with a fixed intensity window, so several
// volumes can be rendered on the same scale.
func NewWindowedViewer(vol *models.Volume, low, high float64) *Viewer {
	return &Viewer{vol: vol, Low: low, High: high}
}

func (v *Viewer) gray(value float64) color.Gray16 {
	span := v.High - v.Low
	if span <= 0 {
		return color.Gray16{}
	}
	t := (value - v.Low) / span
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, t*65535)))}
}

// ExtractSlice extracts a 2D slice perpendicular to the given axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	s := v.vol.Shape

	var img *image.Gray16
	switch axis {
	case "x", "X":
		if position >= s.X {
			return nil, fmt.Errorf("position %d exceeds width %d", position, s.X)
		}
		img = image.NewGray16(image.Rect(0, 0, s.Z, s.Y))
		for y := 0; y < s.Y; y++ {
			for z := 0; z < s.Z; z++ {
				img.SetGray16(z, y, v.gray(v.vol.At(z, y, position)))
			}
		}

	case "y", "Y":
		if position >= s.Y {
			return nil, fmt.Errorf("position %d exceeds height %d", position, s.Y)
		}
		img = image.NewGray16(image.Rect(0, 0, s.X, s.Z))
		for z := 0; z < s.Z; z++ {
			for x := 0; x < s.X; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(z, position, x)))
			}
		}

	case "z", "Z":
		if position >= s.Z {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, s.Z)
		}
		img = image.NewGray16(image.Rect(0, 0, s.X, s.Y))
		for y := 0; y < s.Y; y++ {
			for x := 0; x < s.X; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(position, y, x)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Shape.X
	case "y", "Y":
		maxPos = v.vol.Shape.Y
	case "z", "Z":
		maxPos = v.vol.Shape.Z
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
