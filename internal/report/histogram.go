package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// HistogramBins is the fixed bucket count of the duration histogram.
const HistogramBins = 10

// Bins splits values into n equal-width buckets over [min, max]. The last
// bucket is closed on the right. A zero range is widened to [v-0.5, v+0.5].
func Bins(values []float64, n int) []plotter.HistogramBin {
	if len(values) == 0 || n < 1 {
		return nil
	}
	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	width := (hi - lo) / float64(n)

	bins := make([]plotter.HistogramBin, n)
	for i := range bins {
		bins[i].Min = lo + float64(i)*width
		bins[i].Max = lo + float64(i+1)*width
	}
	bins[n-1].Max = hi

	for _, v := range values {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		if i < 0 {
			i = 0
		}
		bins[i].Weight++
	}
	return bins
}

// WriteHistogram renders a histogram of durations as a PNG at path.
func WriteHistogram(path string, durations []float64) error {
	bins := Bins(durations, HistogramBins)
	if bins == nil {
		return ErrNoDurations
	}

	p := plot.New()
	p.Title.Text = "Histogram of Segment Durations for All Files"
	p.X.Label.Text = "Duration (seconds)"
	p.Y.Label.Text = "Frequency"

	h := &plotter.Histogram{
		Bins:      bins,
		Width:     bins[0].Max - bins[0].Min,
		FillColor: color.RGBA{R: 31, G: 119, B: 180, A: 255},
		LineStyle: plotter.DefaultLineStyle,
	}
	h.LineStyle.Color = color.Black
	p.Add(h)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil { // #nosec G301 -- output dir chosen by the operator
		return fmt.Errorf("create histogram dir: %w", err)
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}
