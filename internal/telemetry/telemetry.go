// Package telemetry defines the per-step harvest record and moves it
// from the run loop to every consumer: the database writer, the live
// tail, and CSV import/export.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Record is one second of harvested network state. Speeds are stored in
// m/s; the API converts on the way out.
type Record struct {
	RunID        string    `json:"run_id,omitempty"`
	Day          int       `json:"day"`
	Step         int       `json:"step"`
	VehicleCount int       `json:"vehicle_count"`
	AvgSpeedMPS  float64   `json:"avg_speed"`
	MaxQueue     int       `json:"max_queue"`
	Timestamp    time.Time `json:"ts,omitempty"`
}

// csvHeader is the exchange format shared with the Python tooling that
// originally produced these logs.
var csvHeader = []string{"day", "step", "vehicle_count", "avg_speed", "max_queue"}

// WriteCSV writes records in the raw harvest format.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Day),
			strconv.Itoa(rec.Step),
			strconv.Itoa(rec.VehicleCount),
			strconv.FormatFloat(rec.AvgSpeedMPS, 'f', 2, 64),
			strconv.Itoa(rec.MaxQueue),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses records from the raw harvest format. Older logs lack
// the max_queue column; those rows load with a zero queue.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"day", "step", "vehicle_count", "avg_speed"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv missing column %q", required)
		}
	}

	var records []Record
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		line++

		rec, err := parseRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string, col map[string]int) (Record, error) {
	field := func(name string) (string, bool) {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return row[i], true
	}

	var rec Record
	var err error

	v, _ := field("day")
	if rec.Day, err = strconv.Atoi(v); err != nil {
		return Record{}, fmt.Errorf("bad day %q", v)
	}
	v, _ = field("step")
	if rec.Step, err = strconv.Atoi(v); err != nil {
		return Record{}, fmt.Errorf("bad step %q", v)
	}
	v, _ = field("vehicle_count")
	if rec.VehicleCount, err = strconv.Atoi(v); err != nil {
		return Record{}, fmt.Errorf("bad vehicle_count %q", v)
	}
	v, _ = field("avg_speed")
	if rec.AvgSpeedMPS, err = strconv.ParseFloat(v, 64); err != nil {
		return Record{}, fmt.Errorf("bad avg_speed %q", v)
	}
	if v, ok := field("max_queue"); ok && v != "" {
		if rec.MaxQueue, err = strconv.Atoi(v); err != nil {
			return Record{}, fmt.Errorf("bad max_queue %q", v)
		}
	}
	return rec, nil
}
