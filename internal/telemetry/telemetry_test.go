package telemetry

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestWriteAndReadCSV(t *testing.T) {
	records := []Record{
		{Day: 1, Step: 0, VehicleCount: 12, AvgSpeedMPS: 14.27, MaxQueue: 0},
		{Day: 1, Step: 1, VehicleCount: 15, AvgSpeedMPS: 13.9, MaxQueue: 3},
		{Day: 2, Step: 0, VehicleCount: 8, AvgSpeedMPS: 14.96, MaxQueue: 1},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "day,step,vehicle_count,avg_speed,max_queue\n") {
		t.Errorf("unexpected header in %q", out)
	}

	parsed, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(parsed) != len(records) {
		t.Fatalf("got %d records, want %d", len(parsed), len(records))
	}
	for i, rec := range parsed {
		want := records[i]
		if rec.Day != want.Day || rec.Step != want.Step ||
			rec.VehicleCount != want.VehicleCount || rec.MaxQueue != want.MaxQueue {
			t.Errorf("record %d = %+v, want %+v", i, rec, want)
		}
		if math.Abs(rec.AvgSpeedMPS-want.AvgSpeedMPS) > 0.01 {
			t.Errorf("record %d speed = %f, want %f", i, rec.AvgSpeedMPS, want.AvgSpeedMPS)
		}
	}
}

func TestReadCSVLegacyFormat(t *testing.T) {
	// Logs from before queue harvesting have no max_queue column.
	legacy := "day,step,vehicle_count,avg_speed\n3,100,42,9.81\n"
	records, err := ReadCSV(strings.NewReader(legacy))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Day != 3 || rec.Step != 100 || rec.VehicleCount != 42 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.MaxQueue != 0 {
		t.Errorf("legacy row should load with zero queue, got %d", rec.MaxQueue)
	}
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("day,step\n1,2\n"))
	if err == nil {
		t.Error("expected error for missing columns, got nil")
	}
}

func TestReadCSVBadValue(t *testing.T) {
	bad := "day,step,vehicle_count,avg_speed\n1,2,notanumber,3.0\n"
	_, err := ReadCSV(strings.NewReader(bad))
	if err == nil {
		t.Error("expected error for non-numeric count, got nil")
	}
}
