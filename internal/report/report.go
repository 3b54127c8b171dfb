// Package report renders harvested telemetry into operator-facing
// charts: interactive HTML pages via go-echarts for the API, and PNG
// artifacts via gonum/plot for training audits and offline analysis.
package report

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/corridor.twin/internal/telemetry"
	"github.com/banshee-data/corridor.twin/internal/units"
)

// echartsAssetsHost serves the echarts runtime for the rendered pages.
const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Series colours follow the corridor analysis convention: orange for
// congestion, blue for flow.
const (
	colorCongestion = "#ff7f0e"
	colorFlow       = "#1f77b4"
	colorQueue      = "#2ca02c"
	colorThreshold  = "#d62728"
)

// RunPage describes one run chart: the full telemetry series plus the
// display conversion.
type RunPage struct {
	Title             string
	Subtitle          string
	Records           []telemetry.Record
	SpeedUnits        string
	CongestedBelowMPS float64
}

// WriteRunPage renders the run's telemetry as two stacked line charts:
// traffic congestion (vehicle count and max queue) and flow quality
// (mean speed against the congestion threshold).
func WriteRunPage(w io.Writer, p RunPage) error {
	if len(p.Records) == 0 {
		return fmt.Errorf("no telemetry to chart")
	}
	if p.SpeedUnits == "" {
		p.SpeedUnits = units.MPS
	}

	multiDay := p.Records[0].Day != p.Records[len(p.Records)-1].Day
	x := make([]string, len(p.Records))
	vehicles := make([]opts.LineData, len(p.Records))
	queues := make([]opts.LineData, len(p.Records))
	speeds := make([]opts.LineData, len(p.Records))
	threshold := make([]opts.LineData, len(p.Records))

	limit := units.ConvertSpeed(p.CongestedBelowMPS, p.SpeedUnits)
	for i, rec := range p.Records {
		if multiDay {
			x[i] = fmt.Sprintf("d%d s%d", rec.Day, rec.Step)
		} else {
			x[i] = fmt.Sprintf("%d", rec.Step)
		}
		vehicles[i] = opts.LineData{Value: rec.VehicleCount}
		queues[i] = opts.LineData{Value: rec.MaxQueue}
		speeds[i] = opts.LineData{Value: units.ConvertSpeed(rec.AvgSpeedMPS, p.SpeedUnits)}
		threshold[i] = opts.LineData{Value: limit}
	}

	congestion := charts.NewLine()
	congestion.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:  p.Title,
			Theme:      "dark",
			Width:      "1400px",
			Height:     "420px",
			AssetsHost: echartsAssetsHost,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Traffic Congestion", Subtitle: p.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	congestion.SetXAxis(x).
		AddSeries("active vehicles", vehicles,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorCongestion}),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("max queue", queues,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorQueue}),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	flow := charts.NewLine()
	flow.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:      "dark",
			Width:      "1400px",
			Height:     "420px",
			AssetsHost: echartsAssetsHost,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Flow Quality",
			Subtitle: fmt.Sprintf("mean network speed (%s)", p.SpeedUnits),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: p.SpeedUnits}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	flow.SetXAxis(x).
		AddSeries("avg speed", speeds,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorFlow}),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("congestion threshold", threshold,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorThreshold}),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(congestion, flow)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("failed to render run page: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
