package scanio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"scantamper/internal/models"
)

// A zvol archive is
//
//	"ZVOL" | version (1 byte) | header length (uint32) | YAML header |
//	CRC32 of payload (uint32) | zstd compressed payload
//
// with little-endian integers. The payload is the volume as little-endian float32
// in (z, y, x) row-major order.
var zvolMagic = []byte("ZVOL")

const zvolVersion = 1

var errBadZVol = errors.New("scanio: not a zvol archive")

type zvolHeader struct {
	Shape    [3]int          `yaml:"shape"`
	Geometry models.Geometry `yaml:"geometry"`
	DType    string          `yaml:"dtype"`
	Source   string          `yaml:"source,omitempty"`
}

func saveZVol(scan *models.Scan, path string) error {
	h := zvolHeader{
		Shape:    scan.Volume.Shape.Dims(),
		Geometry: scan.Geometry,
		DType:    "float32",
		Source:   scan.Path,
	}
	header, err := yaml.Marshal(&h)
	if err != nil {
		return err
	}

	raw := make([]byte, 4*len(scan.Volume.Data))
	for i, v := range scan.Volume.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	payload := enc.EncodeAll(raw, nil)
	enc.Close()

	var buf bytes.Buffer
	buf.Write(zvolMagic)
	buf.WriteByte(zvolVersion)
	binary.Write(&buf, binary.LittleEndian, uint32(len(header)))
	buf.Write(header)
	binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(payload))
	buf.Write(payload)

	return os.WriteFile(path, buf.Bytes(), 0644)
}

func readHeader(r io.Reader) (*zvolHeader, error) {
	prefix := make([]byte, len(zvolMagic)+1)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, errBadZVol
	}
	if !bytes.Equal(prefix[:len(zvolMagic)], zvolMagic) {
		return nil, errBadZVol
	}
	if v := prefix[len(zvolMagic)]; v != zvolVersion {
		return nil, fmt.Errorf("scanio: unsupported zvol version %d", v)
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	var h zvolHeader
	if err := yaml.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("scanio: zvol header: %w", err)
	}
	if !models.ShapeOf(h.Shape).Valid() {
		return nil, fmt.Errorf("scanio: zvol header has invalid shape %v", h.Shape)
	}
	return &h, nil
}

func readZVolHeader(path string) (*zvolHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

func loadZVol(path string) (*models.Scan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("scanio: zvol checksum mismatch")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("scanio: zvol payload: %w", err)
	}

	shape := models.ShapeOf(h.Shape)
	if len(raw) != 4*shape.NumVoxels() {
		return nil, fmt.Errorf("scanio: zvol payload has %d bytes, want %d", len(raw), 4*shape.NumVoxels())
	}
	vol := models.NewVolume(shape)
	for i := range vol.Data {
		vol.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
	}

	return &models.Scan{
		Volume:   vol,
		Geometry: h.Geometry,
		Format:   FormatZVol,
		Path:     path,
	}, nil
}
