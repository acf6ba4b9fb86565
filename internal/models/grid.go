package models

import "fmt"

// Shape is the (rows, cols) extent shared by every grid of a tile
type Shape struct {
	Rows int
	Cols int
}

// Size returns the number of pixels covered by the shape
func (s Shape) Size() int { return s.Rows * s.Cols }

// Valid reports whether both extents are positive
func (s Shape) Valid() bool { return s.Rows > 0 && s.Cols > 0 }

func (s Shape) String() string { return fmt.Sprintf("%dx%d", s.Rows, s.Cols) }

// Field is one channel of a tile: non-negative intensities in row-major order
type Field struct {
	Shape

	// Data holds Rows*Cols values, index r*Cols+c
	Data []float64
}

// NewField allocates a zero field of the given shape
func NewField(rows, cols int) *Field {
	return &Field{Shape: Shape{Rows: rows, Cols: cols}, Data: make([]float64, rows*cols)}
}

// At returns the value at (r, c)
func (f *Field) At(r, c int) float64 { return f.Data[r*f.Cols+c] }

// Set stores v at (r, c)
func (f *Field) Set(r, c int, v float64) { f.Data[r*f.Cols+c] = v }

// Clone returns a deep copy of the field
func (f *Field) Clone() *Field {
	out := &Field{Shape: f.Shape, Data: make([]float64, len(f.Data))}
	copy(out.Data, f.Data)
	return out
}

// Mask is a boolean grid, true marks foreground
type Mask struct {
	Shape
	Data []bool
}

// NewMask allocates an all-background mask
func NewMask(rows, cols int) *Mask {
	return &Mask{Shape: Shape{Rows: rows, Cols: cols}, Data: make([]bool, rows*cols)}
}

func (m *Mask) At(r, c int) bool     { return m.Data[r*m.Cols+c] }
func (m *Mask) Set(r, c int, v bool) { m.Data[r*m.Cols+c] = v }

// Count returns the number of foreground pixels
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the mask
func (m *Mask) Clone() *Mask {
	out := &Mask{Shape: m.Shape, Data: make([]bool, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// Labels is an integer grid where 0 is background and every positive id
// marks exactly one connected object
type Labels struct {
	Shape
	Data []int32
}

// NewLabels allocates an all-background label grid
func NewLabels(rows, cols int) *Labels {
	return &Labels{Shape: Shape{Rows: rows, Cols: cols}, Data: make([]int32, rows*cols)}
}

func (l *Labels) At(r, c int) int32 { return l.Data[r*l.Cols+c] }

// Foreground returns the mask of all labeled pixels
func (l *Labels) Foreground() *Mask {
	m := &Mask{Shape: l.Shape, Data: make([]bool, len(l.Data))}
	for i, v := range l.Data {
		m.Data[i] = v > 0
	}
	return m
}

// Centroid is an area-weighted mean pixel position, in (row, col) order
type Centroid struct {
	Row float64
	Col float64
}

// Box is an inclusive pixel bounding box
type Box struct {
	MinRow, MinCol int
	MaxRow, MaxCol int
}

// Object describes one labeled nucleus
type Object struct {
	// Label is the object's id in the label grid
	Label int

	// Area is the pixel count
	Area int

	Centroid Centroid
	Bounds   Box
}

// Profile is a radially binned mean intensity curve.
// Means holds NaN for bins without pixels.
type Profile struct {
	Edges   []float64
	Centers []float64
	Means   []float64
	Counts  []int
}

// Tile is one multi-channel microscopy field of view
type Tile struct {
	// ID identifies the tile in exported tables
	ID string

	// Paths lists the source files, in channel order where there are several
	Paths []string

	// Channels holds one field per channel, all sharing one shape
	Channels []*Field
}

// Shape returns the shared channel shape, or the zero shape for an empty tile
func (t *Tile) Shape() Shape {
	if len(t.Channels) == 0 {
		return Shape{}
	}
	return t.Channels[0].Shape
}
