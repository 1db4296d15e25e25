package thermal

import (
	"errors"
	"fmt"
	"math"
)

// Default MLX90640 geometry.
const (
	DefaultColumns = 32
	DefaultRows    = 24
)

// Frame is an immutable rows×columns grid of scaled intensities for one
// exposure.
type Frame struct {
	rows, cols int
	data       []int
}

// NewFrame copies rows into a new frame. All rows must have the same length.
func NewFrame(rows [][]int) (*Frame, error) {
	if len(rows) == 0 {
		return &Frame{}, nil
	}
	cols := len(rows[0])
	data := make([]int, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(r), cols)
		}
		data = append(data, r...)
	}
	return &Frame{rows: len(rows), cols: cols, data: data}, nil
}

// Rows returns the number of rows (H).
func (f *Frame) Rows() int { return f.rows }

// Columns returns the number of columns (W).
func (f *Frame) Columns() int { return f.cols }

// At returns the value at row r, column c.
func (f *Frame) At(r, c int) int {
	return f.data[r*f.cols+c]
}

// Row returns a copy of row r.
func (f *Frame) Row(r int) []int {
	out := make([]int, f.cols)
	copy(out, f.data[r*f.cols:(r+1)*f.cols])
	return out
}

// Normalize maps raw sensor readings (row-major, rows×cols) linearly onto
// the integer range [lo, hi]. When mirror is set, columns are reversed so
// that column 0 is on the left as seen from behind the camera.
// A frame with no contrast maps every pixel to lo.
func Normalize(raw []float64, rows, cols, lo, hi int, mirror bool) (*Frame, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.New("frame geometry must be positive")
	}
	if len(raw) != rows*cols {
		return nil, fmt.Errorf("got %d samples, want %d", len(raw), rows*cols)
	}
	if hi < lo {
		return nil, fmt.Errorf("invalid limits [%d, %d]", lo, hi)
	}

	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range raw {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	span := maxV - minV

	data := make([]int, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			src := c
			if mirror {
				src = cols - c - 1
			}
			if span > 0 {
				data[r*cols+c] = lo + int(math.Round((raw[r*cols+src]-minV)*float64(hi-lo)/span))
			} else {
				data[r*cols+c] = lo
			}
		}
	}
	return &Frame{rows: rows, cols: cols, data: data}, nil
}
