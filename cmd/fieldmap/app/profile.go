package app

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ProfilePoints returns the present values of one row against X.
func ProfilePoints(data *FieldData, row int) (plotter.XYs, error) {
	if row < 0 || row >= data.Rows() {
		return nil, fmt.Errorf("profile row %d out of range [0, %d)", row, data.Rows())
	}

	pts := make(plotter.XYs, 0, data.Cols())
	for col, v := range data.Values[row] {
		if v != nil {
			pts = append(pts, plotter.XY{X: data.X[col], Y: *v})
		}
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("profile row %d has no readings", row)
	}
	return pts, nil
}

// ProfileRow resolves the row to plot; a negative row selects the peak row.
func ProfileRow(data *FieldData, row int) int {
	if row >= 0 {
		return row
	}
	if peak, _, ok := data.Peak(); ok {
		return peak
	}
	return 0
}

// SaveProfile plots the values along one row of data to a PNG file.
func SaveProfile(path string, data *FieldData, row int) error {
	pts, err := ProfilePoints(data, row)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s, Y = %.2f cm", data.Title, data.Y[row])
	p.X.Label.Text = "X (cm)"
	p.Y.Label.Text = data.Unit
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("creating profile line: %w", err)
	}
	line.Color = color.RGBA{R: 204, G: 71, B: 120, A: 255}
	line.Width = vg.Points(1.5)

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("creating profile markers: %w", err)
	}
	scatter.GlyphStyle.Color = line.Color

	p.Add(line, scatter)

	if err = p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving profile plot: %w", err)
	}
	return nil
}
