package sweep

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// CSVWriter wraps csv.Writer with methods for sweep output. The raw
// file gets one row per sample run, the summary file one row per
// combination.
type CSVWriter struct {
	Summary *csv.Writer
	Raw     *csv.Writer
}

// NewCSVWriter creates a new CSVWriter with the given summary and raw
// writers.
func NewCSVWriter(summary, raw io.Writer) *CSVWriter {
	return &CSVWriter{
		Summary: csv.NewWriter(summary),
		Raw:     csv.NewWriter(raw),
	}
}

// WriteHeaders writes the headers to both summary and raw CSV files.
func (c *CSVWriter) WriteHeaders() {
	c.Summary.Write([]string{
		"min_green_s", "max_green_s", "queue_threshold",
		"mean_queue_mean", "mean_queue_stddev",
		"max_queue_mean", "max_queue_stddev",
		"mean_speed_mps_mean", "mean_speed_mps_stddev",
		"queue_holds_mean", "queue_holds_stddev",
	})
	c.Raw.Write([]string{
		"min_green_s", "max_green_s", "queue_threshold", "iter", "timestamp",
		"mean_queue", "max_queue", "mean_speed_mps", "queue_holds", "steps",
	})
}

// WriteRawRow writes a single sample run to the raw CSV file.
func (c *CSVWriter) WriteRawRow(combo Combo, iter int, result SampleResult) {
	c.Raw.Write([]string{
		fmt.Sprintf("%d", combo.MinGreen),
		fmt.Sprintf("%d", combo.MaxGreen),
		fmt.Sprintf("%d", combo.QueueThreshold),
		fmt.Sprintf("%d", iter),
		result.Timestamp.Format(time.RFC3339Nano),
		fmt.Sprintf("%.6f", result.MeanQueue),
		fmt.Sprintf("%d", result.MaxQueue),
		fmt.Sprintf("%.6f", result.MeanSpeedMPS),
		fmt.Sprintf("%d", result.QueueHolds),
		fmt.Sprintf("%d", result.Steps),
	})
	c.Raw.Flush()
}

// WriteSummary writes one combination's summary row.
func (c *CSVWriter) WriteSummary(res ComboResult) {
	c.Summary.Write([]string{
		fmt.Sprintf("%d", res.MinGreen),
		fmt.Sprintf("%d", res.MaxGreen),
		fmt.Sprintf("%d", res.QueueThreshold),
		fmt.Sprintf("%.6f", res.MeanQueueMean),
		fmt.Sprintf("%.6f", res.MeanQueueStddev),
		fmt.Sprintf("%.6f", res.MaxQueueMean),
		fmt.Sprintf("%.6f", res.MaxQueueStddev),
		fmt.Sprintf("%.6f", res.SpeedMean),
		fmt.Sprintf("%.6f", res.SpeedStddev),
		fmt.Sprintf("%.6f", res.HoldsMean),
		fmt.Sprintf("%.6f", res.HoldsStddev),
	})
	c.Summary.Flush()
}

// Flush flushes both summary and raw writers.
func (c *CSVWriter) Flush() {
	c.Summary.Flush()
	c.Raw.Flush()
}
