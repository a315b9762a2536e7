package visualization

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"scantamper/internal/models"
)

// createTestVolume fills each z slice with the value z*100 - 1000.
func createTestVolume(shape models.Shape) *models.Volume {
	vol := models.NewVolume(shape)
	for z := 0; z < shape.Z; z++ {
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				vol.Set(z, y, x, float64(z*100-1000))
			}
		}
	}
	return vol
}

// TestNewViewerWindow verifies the default window spans the volume's range
func TestNewViewerWindow(t *testing.T) {
	viewer := NewViewer(createTestVolume(models.Shape{Z: 5, Y: 4, X: 3}))

	if viewer.Low != -1000 {
		t.Errorf("Expected low -1000, got %f", viewer.Low)
	}
	if viewer.High != -600 {
		t.Errorf("Expected high -600, got %f", viewer.High)
	}
}

// TestExtractSlice verifies slice dimensions and gray levels along each axis
func TestExtractSlice(t *testing.T) {
	shape := models.Shape{Z: 5, Y: 4, X: 3}
	viewer := NewViewer(createTestVolume(shape))

	tests := []struct {
		axis          string
		position      int
		width, height int
	}{
		{"z", 2, shape.X, shape.Y},
		{"y", 1, shape.X, shape.Z},
		{"x", 0, shape.Z, shape.Y},
	}
	for _, tt := range tests {
		img, err := viewer.ExtractSlice(tt.axis, tt.position)
		if err != nil {
			t.Fatalf("Failed to extract %s slice: %v", tt.axis, err)
		}
		b := img.Bounds()
		if b.Dx() != tt.width || b.Dy() != tt.height {
			t.Errorf("%s slice: expected %dx%d, got %dx%d", tt.axis, tt.width, tt.height, b.Dx(), b.Dy())
		}
	}

	img, _ := viewer.ExtractSlice("z", 4)
	if g := img.(*image.Gray16).Gray16At(0, 0).Y; g != 65535 {
		t.Errorf("Expected brightest slice to be white, got %d", g)
	}
	img, _ = viewer.ExtractSlice("z", 0)
	if g := img.(*image.Gray16).Gray16At(0, 0).Y; g != 0 {
		t.Errorf("Expected darkest slice to be black, got %d", g)
	}
}

// TestExtractSliceErrors verifies invalid axes and positions are rejected
func TestExtractSliceErrors(t *testing.T) {
	viewer := NewViewer(createTestVolume(models.Shape{Z: 2, Y: 2, X: 2}))

	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position")
	}
	if _, err := viewer.ExtractSlice("z", 2); err == nil {
		t.Error("Expected error for position beyond depth")
	}
}

// TestWindowedViewerClamps verifies values outside the window saturate
func TestWindowedViewerClamps(t *testing.T) {
	viewer := NewWindowedViewer(createTestVolume(models.Shape{Z: 5, Y: 1, X: 1}), -900, -800)

	img, _ := viewer.ExtractSlice("x", 0)
	g := img.(*image.Gray16)
	if g.Gray16At(0, 0).Y != 0 {
		t.Errorf("Expected value below window to be black")
	}
	if g.Gray16At(4, 0).Y != 65535 {
		t.Errorf("Expected value above window to be white")
	}
}

// TestSaveSliceSequence verifies one file is written per slice
func TestSaveSliceSequence(t *testing.T) {
	viewer := NewViewer(createTestVolume(models.Shape{Z: 3, Y: 4, X: 4}))
	dir := filepath.Join(t.TempDir(), "slices")

	if err := viewer.SaveSliceSequence("z", dir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read output directory: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 slices, got %d", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "slice_z_001.jpg")); err != nil {
		t.Errorf("Expected slice_z_001.jpg: %v", err)
	}

	if err := viewer.SaveSliceSequence("q", dir); err == nil {
		t.Error("Expected error for invalid axis")
	}
}
