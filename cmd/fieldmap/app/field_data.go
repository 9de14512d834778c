package app

import (
	"errors"
	"math"
	"slices"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

// FieldData is a scan laid out as a dense grid ready for rendering.
// Row 0 holds the smallest Y.
type FieldData struct {
	Title    string
	Unit     string
	Metadata field.Metadata
	X        []float64 // cm, ascending
	Y        []float64 // cm, ascending
	Values   [][]*float64
}

// Cols returns the number of cells per row.
func (d *FieldData) Cols() int {
	return len(d.X)
}

// Rows returns the number of rows.
func (d *FieldData) Rows() int {
	return len(d.Y)
}

// Present returns all values that carry a reading.
func (d *FieldData) Present() []float64 {
	var out []float64
	for _, row := range d.Values {
		for _, v := range row {
			if v != nil {
				out = append(out, *v)
			}
		}
	}
	return out
}

// Peak returns the row and column of the highest value.
func (d *FieldData) Peak() (row, col int, ok bool) {
	best := math.Inf(-1)
	for r, values := range d.Values {
		for c, v := range values {
			if v != nil && *v > best {
				best, row, col, ok = *v, r, c, true
			}
		}
	}
	return row, col, ok
}

type cell struct {
	x, y  float64
	value *float64
}

// coordKey snaps coordinates so values decoded from metres compare equal.
func coordKey(v float64) int64 {
	return int64(math.Round(v * 1e6))
}

func newFieldData(title, unit string, md field.Metadata, cells []cell) (*FieldData, error) {
	if len(cells) == 0 {
		return nil, errors.New("no cells to render")
	}

	xs := map[int64]float64{}
	ys := map[int64]float64{}
	for _, c := range cells {
		xs[coordKey(c.x)] = c.x
		ys[coordKey(c.y)] = c.y
	}

	d := &FieldData{Title: title, Unit: unit, Metadata: md}
	for _, v := range xs {
		d.X = append(d.X, v)
	}
	for _, v := range ys {
		d.Y = append(d.Y, v)
	}
	slices.Sort(d.X)
	slices.Sort(d.Y)

	colIndex := make(map[int64]int, len(d.X))
	for i, v := range d.X {
		colIndex[coordKey(v)] = i
	}
	rowIndex := make(map[int64]int, len(d.Y))
	for i, v := range d.Y {
		rowIndex[coordKey(v)] = i
	}

	d.Values = make([][]*float64, len(d.Y))
	for i := range d.Values {
		d.Values[i] = make([]*float64, len(d.X))
	}
	for _, c := range cells {
		d.Values[rowIndex[coordKey(c.y)]][colIndex[coordKey(c.x)]] = c.value
	}
	return d, nil
}

// FromOrientation lays out the readings of one orientation pass.
// Cells never measured, e.g. after an interrupted pass, stay absent.
func FromOrientation(s *field.OrientationScan) (*FieldData, error) {
	cells := make([]cell, len(s.Measurements))
	for i, m := range s.Measurements {
		cells[i] = cell{x: m.X, y: m.Y, value: m.Reading.Ptr()}
	}

	title := "Field strength " + s.Orientation.String()
	if s.Metadata.Interrupted {
		title += " (interrupted)"
	}
	return newFieldData(title, "dBm", s.Metadata, cells)
}

// FromCombined lays out the synthesized intensity.
func FromCombined(cf *field.CombinedField) (*FieldData, error) {
	cells := make([]cell, len(cf.Cells))
	for i, c := range cf.Cells {
		cells[i] = cell{x: c.X, y: c.Y, value: c.Intensity.Ptr()}
	}
	return newFieldData("Combined field strength", "dBm", cf.Metadata, cells)
}

// FromAngle lays out the advisory orientation angle in degrees.
func FromAngle(cf *field.CombinedField) (*FieldData, error) {
	if !cf.HasAngle {
		return nil, errors.New("combined field carries no angle estimate")
	}

	cells := make([]cell, len(cf.Cells))
	for i, c := range cf.Cells {
		cells[i] = cell{x: c.X, y: c.Y}
		if rad, ok := c.Angle.Value(); ok {
			deg := rad * 180 / math.Pi
			cells[i].value = &deg
		}
	}
	return newFieldData("Orientation angle", "°", cf.Metadata, cells)
}
