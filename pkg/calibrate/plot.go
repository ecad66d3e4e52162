package calibrate

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// HistogramBins is the bin count used per set.
const HistogramBins = 20

var (
	sharpColor   = color.RGBA{R: 46, G: 139, B: 87, A: 160}
	blurredColor = color.RGBA{R: 205, G: 92, B: 92, A: 160}
)

// PlotHistogram writes overlaid magnitude histograms of the two sets, with
// the cut drawn as a vertical line when cut > 0. The image format follows
// the file extension (png, svg, pdf...).
func PlotHistogram(path string, sharp, blurred []float64, cut float64) error {
	if len(sharp) == 0 && len(blurred) == 0 {
		return errors.New("calibrate: nothing to plot")
	}

	p := plot.New()
	p.Title.Text = "Mean gradient magnitude"
	p.X.Label.Text = "Magnitude"
	p.Y.Label.Text = "Frames"

	var top float64
	for _, set := range []struct {
		name  string
		xs    []float64
		color color.Color
	}{
		{"sharp", sharp, sharpColor},
		{"blurred", blurred, blurredColor},
	} {
		if len(set.xs) == 0 {
			continue
		}
		h, err := plotter.NewHist(plotter.Values(set.xs), HistogramBins)
		if err != nil {
			return fmt.Errorf("calibrate: %s histogram: %w", set.name, err)
		}
		h.FillColor = set.color
		h.LineStyle.Width = vg.Points(0.5)
		for _, b := range h.Bins {
			top = max(top, b.Weight)
		}
		p.Add(h)
		p.Legend.Add(set.name, h)
	}

	if cut > 0 {
		line, err := plotter.NewLine(plotter.XYs{{X: cut, Y: 0}, {X: cut, Y: top}})
		if err != nil {
			return fmt.Errorf("calibrate: cut line: %w", err)
		}
		line.Width = vg.Points(1.5)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("cut %.1f", cut), line)
	}

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("calibrate: save plot: %w", err)
	}
	return nil
}
