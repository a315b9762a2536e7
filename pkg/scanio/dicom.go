package scanio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"scantamper/internal/models"
	"scantamper/pkg/geometry"
)

// dicomSlice is one parsed file of a series with the attributes needed to
// reconstruct it.
type dicomSlice struct {
	name      string
	dataset   dicom.Dataset
	position  [3]float64
	slope     float64
	intercept float64
	signed    bool
	bitsAlloc int
	bitsStore int
	rows      int
	cols      int
}

// dicomSeries is the opaque per-slice metadata kept on a scan loaded from DICOM.
type dicomSeries struct {
	slices []*dicomSlice
}

// seriesFiles lists the .dcm files of the series containing path.
func seriesFiles(path string) ([]string, error) {
	dir := path
	if info, err := os.Stat(path); err != nil {
		return nil, err
	} else if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".dcm") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .dcm files in %s", dir)
	}
	return files, nil
}

func loadDICOM(path string) (*models.Scan, error) {
	files, err := seriesFiles(path)
	if err != nil {
		return nil, err
	}

	var (
		slices         []*dicomSlice
		rowCos, colCos [3]float64
		pixelSpacing   [2]float64
		sliceThickness float64
	)
	for i, file := range files {
		ds, err := dicom.ParseFile(file, nil)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		s := &dicomSlice{name: filepath.Base(file), dataset: ds, slope: 1}
		if s.position, err = floats3(ds, tag.ImagePositionPatient); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if v, err := floatsOf(ds, tag.RescaleSlope); err == nil && len(v) > 0 && v[0] != 0 {
			s.slope = v[0]
		}
		if v, err := floatsOf(ds, tag.RescaleIntercept); err == nil && len(v) > 0 {
			s.intercept = v[0]
		}
		if v, err := intOf(ds, tag.PixelRepresentation); err == nil {
			s.signed = v == 1
		}
		s.bitsAlloc, _ = intOf(ds, tag.BitsAllocated)
		s.bitsStore, _ = intOf(ds, tag.BitsStored)
		if s.bitsStore == 0 {
			s.bitsStore = s.bitsAlloc
		}
		if s.rows, err = intOf(ds, tag.Rows); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if s.cols, err = intOf(ds, tag.Columns); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		if i == 0 {
			orient, err := floatsOf(ds, tag.ImageOrientationPatient)
			if err != nil || len(orient) != 6 {
				return nil, fmt.Errorf("%s: missing image orientation", file)
			}
			copy(rowCos[:], orient[:3])
			copy(colCos[:], orient[3:])
			ps, err := floatsOf(ds, tag.PixelSpacing)
			if err != nil || len(ps) != 2 {
				return nil, fmt.Errorf("%s: missing pixel spacing", file)
			}
			pixelSpacing = [2]float64{ps[0], ps[1]}
			if v, err := floatsOf(ds, tag.SliceThickness); err == nil && len(v) > 0 {
				sliceThickness = v[0]
			}
		}
		slices = append(slices, s)
	}

	// order slices along the slice normal
	normal := [3]float64{
		rowCos[1]*colCos[2] - rowCos[2]*colCos[1],
		rowCos[2]*colCos[0] - rowCos[0]*colCos[2],
		rowCos[0]*colCos[1] - rowCos[1]*colCos[0],
	}
	along := func(s *dicomSlice) float64 {
		return s.position[0]*normal[0] + s.position[1]*normal[1] + s.position[2]*normal[2]
	}
	sort.SliceStable(slices, func(i, j int) bool { return along(slices[i]) < along(slices[j]) })

	sliceSpacing := sliceThickness
	if len(slices) > 1 {
		sliceSpacing = along(slices[1]) - along(slices[0])
	}
	if sliceSpacing == 0 {
		sliceSpacing = 1
	}

	rows, cols := slices[0].rows, slices[0].cols
	vol := models.NewVolume(models.Shape{Z: len(slices), Y: rows, X: cols})
	for z, s := range slices {
		if s.rows != rows || s.cols != cols {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d", s.name, s.rows, s.cols, rows, cols)
		}
		pixels, err := nativePixels(s.dataset)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		if len(pixels) != rows*cols {
			return nil, fmt.Errorf("%s: %d pixels, expected %d", s.name, len(pixels), rows*cols)
		}
		base := vol.Index(z, 0, 0)
		for i, p := range pixels {
			if s.signed {
				p = signExtend(p, s.bitsStore)
			}
			vol.Data[base+i] = float64(p)*s.slope + s.intercept
		}
	}

	return &models.Scan{
		Volume:   vol,
		Geometry: geometry.FromDICOM(slices[0].position, rowCos, colCos, pixelSpacing, sliceSpacing),
		Format:   FormatDICOM,
		Path:     path,
		Raw:      &dicomSeries{slices: slices},
	}, nil
}

// saveDICOM re-encodes every slice of the series with the scan's current voxels,
// keeping all other attributes of the original files.
func saveDICOM(scan *models.Scan, series *dicomSeries, dir string) error {
	if len(series.slices) != scan.Volume.Shape.Z {
		return fmt.Errorf("scan has %d slices, series metadata has %d", scan.Volume.Shape.Z, len(series.slices))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	for z, s := range series.slices {
		pixelElem, err := s.dataset.FindElementByTag(tag.PixelData)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}

		lo, hi := storedRange(s.signed, s.bitsStore)
		data := make([][]int, s.rows*s.cols)
		base := scan.Volume.Index(z, 0, 0)
		for i := range data {
			stored := math.Round((scan.Volume.Data[base+i] - s.intercept) / s.slope)
			data[i] = []int{int(math.Min(math.Max(stored, lo), hi))}
		}

		value, err := dicom.NewValue(dicom.PixelDataInfo{
			Frames: []frame.Frame{{
				NativeData: frame.NativeFrame{
					BitsPerSample: s.bitsAlloc,
					Rows:          s.rows,
					Cols:          s.cols,
					Data:          data,
				},
			}},
		})
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		pixelElem.Value = value

		out, err := os.Create(filepath.Join(dir, s.name))
		if err != nil {
			return err
		}
		if err := dicom.Write(out, s.dataset); err != nil {
			out.Close()
			return fmt.Errorf("%s: %w", s.name, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
	return nil
}

// storedRange is the representable range of a stored pixel value.
func storedRange(signed bool, bits int) (float64, float64) {
	if bits <= 0 || bits > 32 {
		bits = 16
	}
	if signed {
		return -math.Ldexp(1, bits-1), math.Ldexp(1, bits-1) - 1
	}
	return 0, math.Ldexp(1, bits) - 1
}

// signExtend reads the low bits of a raw sample as a two's complement value.
// Samples are decoded unsigned, so negative stored values arrive wrapped.
func signExtend(v, bits int) int {
	if bits <= 0 || bits >= 32 {
		return int(int32(uint32(v)))
	}
	v &= 1<<bits - 1
	if v&(1<<(bits-1)) != 0 {
		v -= 1 << bits
	}
	return v
}

func nativePixels(ds dicom.Dataset) ([]int, error) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, err
	}
	info := dicom.MustGetPixelDataInfo(elem.Value)
	if info.IsEncapsulated || len(info.Frames) == 0 {
		return nil, fmt.Errorf("only native (uncompressed) single-frame pixel data is supported")
	}
	native := info.Frames[0].NativeData
	pixels := make([]int, len(native.Data))
	for i, sample := range native.Data {
		if len(sample) == 0 {
			return nil, fmt.Errorf("empty pixel sample at %d", i)
		}
		pixels[i] = sample[0]
	}
	return pixels, nil
}

func floatsOf(ds dicom.Dataset, t tag.Tag) ([]float64, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, s := range dicom.MustGetStrings(elem.Value) {
		for _, part := range strings.Split(s, `\`) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil, fmt.Errorf("tag %v: %w", t, err)
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func floats3(ds dicom.Dataset, t tag.Tag) ([3]float64, error) {
	v, err := floatsOf(ds, t)
	if err != nil {
		return [3]float64{}, err
	}
	if len(v) != 3 {
		return [3]float64{}, fmt.Errorf("tag %v has %d values, expected 3", t, len(v))
	}
	return [3]float64{v[0], v[1], v[2]}, nil
}

func intOf(ds dicom.Dataset, t tag.Tag) (int, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, err
	}
	ints := dicom.MustGetInts(elem.Value)
	if len(ints) == 0 {
		return 0, fmt.Errorf("tag %v is empty", t)
	}
	return ints[0], nil
}
