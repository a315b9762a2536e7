package models

import "fmt"

// Shape is the extent of a voxel grid, ordered (z, y, x).
type Shape struct {
	Z, Y, X int
}

// ShapeOf builds a Shape from a (z, y, x) triple.
func ShapeOf(dims [3]int) Shape {
	return Shape{Z: dims[0], Y: dims[1], X: dims[2]}
}

// Dims returns the shape as a (z, y, x) triple.
func (s Shape) Dims() [3]int {
	return [3]int{s.Z, s.Y, s.X}
}

// NumVoxels returns the number of voxels covered by the shape.
func (s Shape) NumVoxels() int {
	return s.Z * s.Y * s.X
}

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool {
	return s.Z > 0 && s.Y > 0 && s.X > 0
}

// Max returns the largest dimension.
func (s Shape) Max() int {
	m := s.Z
	if s.Y > m {
		m = s.Y
	}
	if s.X > m {
		m = s.X
	}
	return m
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Z, s.Y, s.X)
}

// Volume is a 3D grid of scalar intensities.
type Volume struct {
	// Data holds the voxels in row-major order: z*Y*X + y*X + x
	Data []float64

	Shape Shape
}

// NewVolume allocates a zero-filled volume.
func NewVolume(shape Shape) *Volume {
	return &Volume{
		Data:  make([]float64, shape.NumVoxels()),
		Shape: shape,
	}
}

// NewFilledVolume allocates a volume where every voxel equals value.
func NewFilledVolume(shape Shape, value float64) *Volume {
	v := NewVolume(shape)
	for i := range v.Data {
		v.Data[i] = value
	}
	return v
}

// Index returns the flat offset of voxel (z, y, x).
func (v *Volume) Index(z, y, x int) int {
	return z*v.Shape.Y*v.Shape.X + y*v.Shape.X + x
}

// Contains reports whether (z, y, x) addresses a voxel of the volume.
func (v *Volume) Contains(z, y, x int) bool {
	return z >= 0 && y >= 0 && x >= 0 && z < v.Shape.Z && y < v.Shape.Y && x < v.Shape.X
}

// At returns the voxel at (z, y, x). The caller must ensure it is in bounds.
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[v.Index(z, y, x)]
}

// Set writes the voxel at (z, y, x). The caller must ensure it is in bounds.
func (v *Volume) Set(z, y, x int, value float64) {
	v.Data[v.Index(z, y, x)] = value
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{Data: data, Shape: v.Shape}
}

// Map applies fn to every voxel in place.
func (v *Volume) Map(fn func(float64) float64) {
	for i, val := range v.Data {
		v.Data[i] = fn(val)
	}
}
