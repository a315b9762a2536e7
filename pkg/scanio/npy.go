package scanio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
	"gopkg.in/yaml.v3"

	"scantamper/internal/models"
)

// ReadNPY reads a NumPy array file of any numeric dtype as float64 values in C
// order together with its shape.
func ReadNPY(path string) ([]float64, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return DecodeNPY(f)
}

// DecodeNPY decodes a NumPy array stream. See ReadNPY.
func DecodeNPY(r io.Reader) ([]float64, []int, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	shape := nr.Header.Descr.Shape

	var data []float64
	switch dtype := strings.TrimLeft(nr.Header.Descr.Type, "<|="); dtype {
	case "f8":
		err = nr.Read(&data)
	case "f4":
		var v []float32
		if err = nr.Read(&v); err == nil {
			data = widen(v)
		}
	case "i8":
		var v []int64
		if err = nr.Read(&v); err == nil {
			data = widen(v)
		}
	case "i4":
		var v []int32
		if err = nr.Read(&v); err == nil {
			data = widen(v)
		}
	case "i2":
		var v []int16
		if err = nr.Read(&v); err == nil {
			data = widen(v)
		}
	case "u2":
		var v []uint16
		if err = nr.Read(&v); err == nil {
			data = widen(v)
		}
	case "u1":
		var v []uint8
		if err = nr.Read(&v); err == nil {
			data = widen(v)
		}
	default:
		return nil, nil, fmt.Errorf("scanio: unsupported npy dtype %q", nr.Header.Descr.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	if nr.Header.Descr.Fortran {
		data = fortranToC(data, shape)
	}
	return data, shape, nil
}

type number interface {
	~float32 | ~int64 | ~int32 | ~int16 | ~uint16 | ~uint8
}

func widen[T number](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// fortranToC reorders column-major data into row-major order.
func fortranToC(data []float64, shape []int) []float64 {
	out := make([]float64, len(data))
	idx := make([]int, len(shape))
	for c := range out {
		// c is the row-major offset of idx; compute the column-major offset
		f, stride := 0, 1
		for d := 0; d < len(shape); d++ {
			f += idx[d] * stride
			stride *= shape[d]
		}
		out[c] = data[f]
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// loadNPY reads a 3D volume. Geometry comes from <stem>.yaml when present and
// defaults to unit spacing otherwise.
func loadNPY(path string) (*models.Scan, error) {
	data, shape, err := ReadNPY(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("scanio: npy volume must be 3D, got shape %v", shape)
	}

	g := models.DefaultGeometry()
	sidecar := strings.TrimSuffix(path, ".npy") + ".yaml"
	if raw, err := os.ReadFile(sidecar); err == nil {
		if err := yaml.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("scanio: geometry sidecar %s: %w", sidecar, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return &models.Scan{
		Volume:   &models.Volume{Data: data, Shape: models.ShapeOf([3]int{shape[0], shape[1], shape[2]})},
		Geometry: g,
		Format:   FormatNPY,
		Path:     path,
	}, nil
}

// WriteNPY encodes data as a little-endian float64 NumPy array with the given
// shape.
func WriteNPY(w io.Writer, data []float64, shape []int) error {
	n := 1
	dims := make([]string, len(shape))
	for i, d := range shape {
		n *= d
		dims[i] = strconv.Itoa(d)
	}
	if n != len(data) {
		return fmt.Errorf("scanio: shape %v does not match %d values", shape, len(data))
	}
	tuple := "(" + strings.Join(dims, ", ") + ")"
	if len(shape) == 1 {
		tuple = "(" + dims[0] + ",)"
	}

	dict := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': %s, }", tuple)
	// magic(6) + version(2) + length(2) + dict + '\n' is padded to 64 bytes
	total := 10 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"

	bw := bufio.NewWriter(w)
	bw.WriteString("\x93NUMPY")
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(dict)))
	bw.WriteString(dict)
	if err := binary.Write(bw, binary.LittleEndian, data); err != nil {
		return err
	}
	return bw.Flush()
}

// saveNPY writes the volume to path and its geometry to the <stem>.yaml sidecar.
func saveNPY(scan *models.Scan, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	dims := scan.Volume.Shape.Dims()
	if err := WriteNPY(f, scan.Volume.Data, dims[:]); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	raw, err := yaml.Marshal(scan.Geometry)
	if err != nil {
		return err
	}
	return os.WriteFile(strings.TrimSuffix(path, ".npy")+".yaml", raw, 0644)
}
