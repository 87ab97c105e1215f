package stats

import (
	"bytes"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Series is a named line on a plot
type Series struct {
	Name string
	X, Y []float64
}

// LinePlot creates a plot with one line per series
func LinePlot(title, xLabel, yLabel string, series ...Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(12)
	p.Add(plotter.NewGrid())
	for i, s := range series {
		if len(s.X) != len(s.Y) {
			return nil, errors.Errorf("plot %s: series %s has %d x values and %d y values", title, s.Name, len(s.X), len(s.Y))
		}
		if len(s.X) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.X))
		for j := range pts {
			pts[j].X, pts[j].Y = s.X[j], s.Y[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.Wrapf(err, "plot %s", title)
		}
		line.Width = vg.Points(1.5)
		line.Color = plotutil.Color(i)
		p.Add(line)
		if s.Name != "" {
			p.Legend.Add(s.Name, line)
		}
	}
	return p, nil
}

// LossSeries converts per batch losses to a raw and a smoothed series with x in fractional epochs.
func LossSeries(losses [][]float64) (raw, smooth Series) {
	raw.Name = "batch loss"
	for i, epoch := range losses {
		for j, loss := range epoch {
			raw.X = append(raw.X, float64(i)+float64(j+1)/float64(len(epoch)))
			raw.Y = append(raw.Y, loss)
		}
	}
	smooth = Series{Name: "smoothed", X: raw.X, Y: Smooth(raw.Y, 50)}
	return raw, smooth
}

// SavePlot writes the plot to file, format is taken from the extension e.g. svg or png.
func SavePlot(p *plot.Plot, width, height vg.Length, path string) error {
	if err := p.Save(width, height, path); err != nil {
		return errors.Wrapf(err, "error saving plot to %s", filepath.Base(path))
	}
	return nil
}

// SVG renders the plot as inline svg data with the given size in points.
func SVG(p *plot.Plot, w, h int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := p.WriterTo(vg.Points(float64(w)), vg.Points(float64(h)), "svg")
	if err != nil {
		return nil, errors.Wrap(err, "error writing plot")
	}
	if _, err = writer.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "error writing plot")
	}
	return buf.Bytes(), nil
}
