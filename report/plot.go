package report

import (
	"errors"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotErrors draws the training error of every epoch to a PNG (or any
// extension gonum/plot understands) at path.
func PlotErrors(history []float64, path string) error {
	if len(history) == 0 {
		return errors.New("no epochs to plot")
	}

	points := make(plotter.XYs, 0, len(history))
	for i, e := range history {
		points = append(points, plotter.XY{X: float64(i + 1), Y: e})
	}

	p := plot.New()
	p.Title.Text = "epochs vs error"
	p.X.Label.Text = "epochs"
	p.Y.Label.Text = "error"

	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Radius = vg.Length(1)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(line, scatter)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
