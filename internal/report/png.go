package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/corridor.twin/internal/synth"
)

var (
	plotOrange = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	plotBlue   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	plotRed    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// demandCurvePlot builds the theoretical Gaussian demand model: the
// curve the synthetic generator and the synthetic engine both follow,
// with the rush-hour peak marked.
func demandCurvePlot(dp synth.DayParams, steps int) (*plot.Plot, error) {
	if steps <= 0 {
		steps = 3600
	}
	width := float64(dp.Width)
	if width <= 0 {
		return nil, fmt.Errorf("demand curve needs a positive width, got %d", dp.Width)
	}

	curve := make(plotter.XYs, steps)
	for step := 0; step < steps; step++ {
		d := float64(step - dp.PeakStep)
		curve[step] = plotter.XY{
			X: float64(step),
			Y: float64(dp.PeakCars) * math.Exp(-(d*d)/(2*width*width)),
		}
	}

	p := plot.New()
	p.Title.Text = "Gaussian Demand Model"
	p.X.Label.Text = "Simulation Step"
	p.Y.Label.Text = "Vehicle Count"

	line, err := plotter.NewLine(curve)
	if err != nil {
		return nil, fmt.Errorf("failed to build demand line: %w", err)
	}
	line.Color = plotOrange
	line.Width = vg.Points(2)
	p.Add(line)
	p.Legend.Add("theoretical demand", line)

	peak, err := plotter.NewLine(plotter.XYs{
		{X: float64(dp.PeakStep), Y: 0},
		{X: float64(dp.PeakStep), Y: float64(dp.PeakCars)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build peak marker: %w", err)
	}
	peak.Color = plotRed
	peak.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(peak)
	p.Legend.Add("peak rush hour", peak)

	p.Legend.Top = true
	return p, nil
}

// WriteDemandCurvePNG renders the theoretical demand curve as a PNG.
func WriteDemandCurvePNG(w io.Writer, dp synth.DayParams, steps int) error {
	p, err := demandCurvePlot(dp, steps)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render demand curve: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write demand curve: %w", err)
	}
	return nil
}

// SaveAuditPNG plots model predictions over the held-out reality, the
// visual half of a training audit. Both series are indexed by test-row
// position; r2 goes in the title so the image stands alone.
func SaveAuditPNG(path string, reality, predicted []float64, r2 float64) error {
	if len(reality) == 0 || len(reality) != len(predicted) {
		return fmt.Errorf("audit needs matching series, got %d/%d points", len(reality), len(predicted))
	}

	actual := make(plotter.XYs, len(reality))
	pred := make(plotter.XYs, len(predicted))
	for i := range reality {
		actual[i] = plotter.XY{X: float64(i), Y: reality[i]}
		pred[i] = plotter.XY{X: float64(i), Y: predicted[i]}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Reality vs Prediction (held-out rows) | R2: %.2f", r2)
	p.X.Label.Text = "Test Row"
	p.Y.Label.Text = "Vehicle Count"

	realLine, err := plotter.NewLine(actual)
	if err != nil {
		return fmt.Errorf("failed to build reality line: %w", err)
	}
	realLine.Color = plotBlue
	realLine.Width = vg.Points(1)
	p.Add(realLine)
	p.Legend.Add("reality", realLine)

	predLine, err := plotter.NewLine(pred)
	if err != nil {
		return fmt.Errorf("failed to build prediction line: %w", err)
	}
	predLine.Color = plotRed
	predLine.Width = vg.Points(1)
	predLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(predLine)
	p.Legend.Add("prediction", predLine)

	p.Legend.Top = true
	if err := p.Save(12*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save audit plot: %w", err)
	}
	return nil
}
