// Package grid builds the raster of probe positions over a board.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

// relative tolerance absorbing float drift when stepping up to the board edge
const edgeTolerance = 1e-9

var (
	ErrInvalidResolution = errors.New("resolution must be a positive number")
	ErrInvalidDimension  = errors.New("board dimensions must be non-negative numbers")
)

// Grid is an immutable set of sample coordinates in board-local centimetres,
// traversed row-major: every X for the first Y, then every X for the next Y.
type Grid struct {
	x []float64
	y []float64
}

// Build derives the sample grid for a board of widthCM x heightCM at the given
// resolution in points per centimetre.
//
// Each axis holds 0, step, 2*step, ... up to and including the dimension, with
// step = 1/resolution. An axis that would hold fewer than two points falls back
// to [0, dimension] so every scan has a start and an end.
func Build(widthCM, heightCM, resolution float64) (*Grid, error) {
	if math.IsNaN(resolution) || math.IsInf(resolution, 0) || resolution <= 0 {
		return nil, fmt.Errorf("grid: %w: %v", ErrInvalidResolution, resolution)
	}
	for _, d := range []float64{widthCM, heightCM} {
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return nil, fmt.Errorf("grid: %w: %v", ErrInvalidDimension, d)
		}
	}

	step := 1 / resolution
	return &Grid{
		x: axis(widthCM, step),
		y: axis(heightCM, step),
	}, nil
}

func axis(dim, step float64) []float64 {
	limit := dim + edgeTolerance*math.Max(1, dim)

	var values []float64
	for i := 0; ; i++ {
		v := float64(i) * step
		if v > limit {
			break
		}
		values = append(values, math.Min(v, dim))
	}

	if len(values) < 2 {
		return []float64{0, dim}
	}
	return values
}

// X returns a copy of the column coordinates.
func (g *Grid) X() []float64 {
	return append([]float64(nil), g.x...)
}

// Y returns a copy of the row coordinates.
func (g *Grid) Y() []float64 {
	return append([]float64(nil), g.y...)
}

// Cols is the number of points per row.
func (g *Grid) Cols() int {
	return len(g.x)
}

// Rows is the number of rows.
func (g *Grid) Rows() int {
	return len(g.y)
}

// Len is the total number of points.
func (g *Grid) Len() int {
	return len(g.x) * len(g.y)
}

// Row returns the points of row i.
func (g *Grid) Row(i int) []field.Point {
	pts := make([]field.Point, len(g.x))
	for j, x := range g.x {
		pts[j] = field.Point{X: x, Y: g.y[i]}
	}
	return pts
}

// Points returns every point in row-major order.
func (g *Grid) Points() []field.Point {
	pts := make([]field.Point, 0, g.Len())
	for i := range g.y {
		pts = append(pts, g.Row(i)...)
	}
	return pts
}
