// Package raster holds the in-memory grid and stack types the pipeline
// operates on, plus the compressed container format used to persist them.
//
// Missing data is represented as NaN throughout, never as zero.
package raster

import (
	"math"
)

// NaN is the float32 missing-data sentinel.
var NaN = float32(math.NaN())

// IsNaN reports whether a float32 value is the missing-data sentinel.
func IsNaN(v float32) bool {
	return v != v
}

// Affine is a 2-D geotransform in row-major (a, b, c, d, e, f) order:
//
//	x = a*col + b*row + c
//	y = d*col + e*row + f
type Affine struct {
	A, B, C, D, E, F float64
}

// Coefficients returns the transform as a 6-element array.
func (t Affine) Coefficients() [6]float64 {
	return [6]float64{t.A, t.B, t.C, t.D, t.E, t.F}
}

// PixelCenter returns the projected coordinates of a pixel's center.
func (t Affine) PixelCenter(row, col int) (x, y float64) {
	fc := float64(col) + 0.5
	fr := float64(row) + 0.5
	return t.A*fc + t.B*fr + t.C, t.D*fc + t.E*fr + t.F
}

const affineTolerance = 1e-9

// ApproxEqual reports whether two transforms agree within a small tolerance.
func (t Affine) ApproxEqual(other Affine) bool {
	a, b := t.Coefficients(), other.Coefficients()
	for i := range a {
		if math.Abs(a[i]-b[i]) > affineTolerance {
			return false
		}
	}
	return true
}

// Grid is a single-band float32 raster with georeferencing.
type Grid struct {
	Rows, Cols int
	Transform  Affine
	CRS        string
	Data       []float32 // row-major, len = Rows*Cols
}

// NewGrid allocates a grid filled with NaN.
func NewGrid(rows, cols int, transform Affine, crs string) *Grid {
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = NaN
	}
	return &Grid{Rows: rows, Cols: cols, Transform: transform, CRS: crs, Data: data}
}

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float32 {
	return g.Data[row*g.Cols+col]
}

// Set assigns the value at (row, col).
func (g *Grid) Set(row, col int, v float32) {
	g.Data[row*g.Cols+col] = v
}

// AllNaN reports whether the grid contains no valid values.
func (g *Grid) AllNaN() bool {
	for _, v := range g.Data {
		if !IsNaN(v) {
			return false
		}
	}
	return true
}

// Stack is a time-indexed cube of rasters (steps x rows x cols) sharing one
// geotransform. Unfilled entries are NaN.
type Stack struct {
	Steps, Rows, Cols int
	Data              []float32 // [step][row][col] flattened
}

// NewStack allocates a stack filled with NaN.
func NewStack(steps, rows, cols int) *Stack {
	data := make([]float32, steps*rows*cols)
	for i := range data {
		data[i] = NaN
	}
	return &Stack{Steps: steps, Rows: rows, Cols: cols, Data: data}
}

// PixelCount returns the number of spatial pixels per step.
func (s *Stack) PixelCount() int {
	return s.Rows * s.Cols
}

// Slot returns the step-th spatial plane as a shared subslice.
func (s *Stack) Slot(step int) []float32 {
	n := s.PixelCount()
	return s.Data[step*n : (step+1)*n]
}

// At returns the value at (step, row, col).
func (s *Stack) At(step, row, col int) float32 {
	return s.Data[(step*s.Rows+row)*s.Cols+col]
}

// Set assigns the value at (step, row, col).
func (s *Stack) Set(step, row, col int, v float32) {
	s.Data[(step*s.Rows+row)*s.Cols+col] = v
}

// Clone returns a deep copy of the stack.
func (s *Stack) Clone() *Stack {
	out := &Stack{Steps: s.Steps, Rows: s.Rows, Cols: s.Cols, Data: make([]float32, len(s.Data))}
	copy(out.Data, s.Data)
	return out
}

// FillSlotWhereNaN writes grid values into a step, touching only entries that
// are still NaN. Later duplicate observations for the same step never
// overwrite earlier ones.
func (s *Stack) FillSlotWhereNaN(step int, g *Grid) {
	slot := s.Slot(step)
	for i, v := range slot {
		if IsNaN(v) {
			slot[i] = g.Data[i]
		}
	}
}

// BroadcastScaled assigns grid values scaled by a constant factor to every
// step in the half-open range [start, end), overwriting existing entries.
func (s *Stack) BroadcastScaled(start, end int, g *Grid, factor float32) {
	for step := start; step < end; step++ {
		slot := s.Slot(step)
		for i := range slot {
			slot[i] = g.Data[i] * factor
		}
	}
}

// SetSlotScaled assigns grid values scaled by a constant factor to one step.
func (s *Stack) SetSlotScaled(step int, g *Grid, factor float32) {
	slot := s.Slot(step)
	for i := range slot {
		slot[i] = g.Data[i] * factor
	}
}

// Divide returns the element-wise quotient of two stacks of identical shape.
// Division by zero or NaN propagates Inf/NaN; callers guard downstream.
func Divide(num, den *Stack) *Stack {
	out := &Stack{Steps: num.Steps, Rows: num.Rows, Cols: num.Cols, Data: make([]float32, len(num.Data))}
	for i := range num.Data {
		out.Data[i] = num.Data[i] / den.Data[i]
	}
	return out
}
