package db

import (
	"math"
	"testing"

	"github.com/banshee-data/corridor.twin/internal/telemetry"
)

func seedRun(t *testing.T, db *DB) *Run {
	t.Helper()

	run := &Run{Engine: EngineSynthetic, TLSID: "J1", Params: testRunParams()}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return run
}

func TestInsertAndQueryTelemetry(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	records := []telemetry.Record{
		{Day: 0, Step: 0, VehicleCount: 12, AvgSpeedMPS: 13.5, MaxQueue: 2},
		{Day: 0, Step: 1, VehicleCount: 14, AvgSpeedMPS: 12.25, MaxQueue: 3},
		{Day: 1, Step: 0, VehicleCount: 9, AvgSpeedMPS: 14.0, MaxQueue: 0},
	}
	if err := db.InsertTelemetryBatch(run.ID, records); err != nil {
		t.Fatalf("InsertTelemetryBatch failed: %v", err)
	}

	got, err := db.TelemetryForRun(run.ID)
	if err != nil {
		t.Fatalf("TelemetryForRun failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(got))
	}
	if got[0].RunID != run.ID {
		t.Errorf("Expected run_id %s on records, got %s", run.ID, got[0].RunID)
	}
	if got[1].VehicleCount != 14 || got[1].AvgSpeedMPS != 12.25 || got[1].MaxQueue != 3 {
		t.Errorf("Record did not round-trip: %+v", got[1])
	}

	day1, err := db.TelemetryForDay(run.ID, 1)
	if err != nil {
		t.Fatalf("TelemetryForDay failed: %v", err)
	}
	if len(day1) != 1 || day1[0].VehicleCount != 9 {
		t.Errorf("Expected single day-1 record with 9 vehicles, got %+v", day1)
	}
}

func TestInsertTelemetryBatchEmpty(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	if err := db.InsertTelemetryBatch(run.ID, nil); err != nil {
		t.Errorf("Expected empty batch to be a no-op, got %v", err)
	}
}

func TestRecentTelemetry(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	var records []telemetry.Record
	for day := 0; day < 2; day++ {
		for step := 0; step < 5; step++ {
			records = append(records, telemetry.Record{
				Day: day, Step: step, VehicleCount: day*100 + step, AvgSpeedMPS: 10, MaxQueue: 0,
			})
		}
	}
	if err := db.InsertTelemetryBatch(run.ID, records); err != nil {
		t.Fatalf("InsertTelemetryBatch failed: %v", err)
	}

	got, err := db.RecentTelemetry(run.ID, 3)
	if err != nil {
		t.Fatalf("RecentTelemetry failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(got))
	}
	// Newest three, back in chronological order.
	if got[0].Day != 1 || got[0].Step != 2 {
		t.Errorf("Expected window to start at day 1 step 2, got day %d step %d", got[0].Day, got[0].Step)
	}
	if got[2].Day != 1 || got[2].Step != 4 {
		t.Errorf("Expected window to end at day 1 step 4, got day %d step %d", got[2].Day, got[2].Step)
	}

	all, err := db.RecentTelemetry(run.ID, 50)
	if err != nil {
		t.Fatalf("RecentTelemetry failed: %v", err)
	}
	if len(all) != 10 {
		t.Errorf("Expected all 10 records under a large limit, got %d", len(all))
	}
	if all[0].Day != 0 || all[0].Step != 0 {
		t.Errorf("Expected chronological order from day 0 step 0, got day %d step %d", all[0].Day, all[0].Step)
	}
}

func TestDaySummaries(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	// Day 0: speeds 1..10 m/s, 10 vehicles per step, queue peaking at 7.
	var records []telemetry.Record
	for i := 0; i < 10; i++ {
		q := 0
		if i == 4 {
			q = 7
		}
		records = append(records, telemetry.Record{
			Day: 0, Step: i, VehicleCount: 10, AvgSpeedMPS: float64(i + 1), MaxQueue: q,
		})
	}
	// Day 1: uniformly congested.
	for i := 0; i < 5; i++ {
		records = append(records, telemetry.Record{
			Day: 1, Step: i, VehicleCount: 20, AvgSpeedMPS: 2.0, MaxQueue: 12,
		})
	}
	if err := db.InsertTelemetryBatch(run.ID, records); err != nil {
		t.Fatalf("InsertTelemetryBatch failed: %v", err)
	}

	summaries, err := db.DaySummaries(run.ID, 5.0)
	if err != nil {
		t.Fatalf("DaySummaries failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 day summaries, got %d", len(summaries))
	}

	day0 := summaries[0]
	if day0.Day != 0 || day0.Records != 10 {
		t.Errorf("Expected day 0 with 10 records, got day %d with %d", day0.Day, day0.Records)
	}
	if day0.TotalVehicles != 100 {
		t.Errorf("Expected 100 vehicles on day 0, got %d", day0.TotalVehicles)
	}
	if math.Abs(day0.MeanSpeedMPS-5.5) > 1e-9 {
		t.Errorf("Expected mean speed 5.5, got %f", day0.MeanSpeedMPS)
	}
	if day0.P50SpeedMPS != 5.0 {
		t.Errorf("Expected p50 speed 5.0, got %f", day0.P50SpeedMPS)
	}
	if day0.P85SpeedMPS != 9.0 {
		t.Errorf("Expected p85 speed 9.0, got %f", day0.P85SpeedMPS)
	}
	if day0.MaxQueue != 7 {
		t.Errorf("Expected max queue 7, got %d", day0.MaxQueue)
	}
	// Speeds 1..4 fall below the 5 m/s threshold
	if math.Abs(day0.CongestedShare-0.4) > 1e-9 {
		t.Errorf("Expected congested share 0.4, got %f", day0.CongestedShare)
	}

	day1 := summaries[1]
	if day1.Day != 1 || day1.Records != 5 {
		t.Errorf("Expected day 1 with 5 records, got day %d with %d", day1.Day, day1.Records)
	}
	if day1.CongestedShare != 1.0 {
		t.Errorf("Expected fully congested day, got share %f", day1.CongestedShare)
	}
	if day1.P50SpeedMPS != 2.0 || day1.P85SpeedMPS != 2.0 {
		t.Errorf("Expected flat percentiles at 2.0, got p50=%f p85=%f", day1.P50SpeedMPS, day1.P85SpeedMPS)
	}
	if day1.MaxQueue != 12 {
		t.Errorf("Expected max queue 12, got %d", day1.MaxQueue)
	}
}

func TestDaySummariesEmptyRun(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	summaries, err := db.DaySummaries(run.ID, 5.0)
	if err != nil {
		t.Fatalf("DaySummaries failed: %v", err)
	}
	if summaries == nil {
		t.Error("Expected non-nil summaries slice")
	}
	if len(summaries) != 0 {
		t.Errorf("Expected no summaries for empty run, got %d", len(summaries))
	}
}

func TestTelemetryRollup(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	// Two buckets of 300 steps on day 0, one on day 1.
	records := []telemetry.Record{
		{Day: 0, Step: 0, VehicleCount: 10, AvgSpeedMPS: 10.0, MaxQueue: 1},
		{Day: 0, Step: 299, VehicleCount: 20, AvgSpeedMPS: 14.0, MaxQueue: 4},
		{Day: 0, Step: 300, VehicleCount: 30, AvgSpeedMPS: 6.0, MaxQueue: 9},
		{Day: 1, Step: 10, VehicleCount: 5, AvgSpeedMPS: 15.0, MaxQueue: 0},
	}
	if err := db.InsertTelemetryBatch(run.ID, records); err != nil {
		t.Fatalf("InsertTelemetryBatch failed: %v", err)
	}

	buckets, err := db.TelemetryRollup(run.ID, 300)
	if err != nil {
		t.Fatalf("TelemetryRollup failed: %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("Expected 3 buckets, got %d", len(buckets))
	}

	first := buckets[0]
	if first.Day != 0 || first.StartStep != 0 {
		t.Errorf("Expected first bucket day 0 step 0, got day %d step %d", first.Day, first.StartStep)
	}
	if first.Records != 2 || first.Vehicles != 30 {
		t.Errorf("Expected 2 records with 30 vehicles, got %d with %d", first.Records, first.Vehicles)
	}
	if math.Abs(first.MeanSpeedMPS-12.0) > 1e-9 {
		t.Errorf("Expected mean speed 12.0, got %f", first.MeanSpeedMPS)
	}
	if first.MaxQueue != 4 {
		t.Errorf("Expected max queue 4, got %d", first.MaxQueue)
	}

	second := buckets[1]
	if second.Day != 0 || second.StartStep != 300 || second.Records != 1 {
		t.Errorf("Unexpected second bucket: %+v", second)
	}

	third := buckets[2]
	if third.Day != 1 || third.StartStep != 0 {
		t.Errorf("Expected day-1 bucket starting at 0, got %+v", third)
	}
}

func TestTelemetryRollupRejectsBadGroupSize(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	if _, err := db.TelemetryRollup(run.ID, 0); err == nil {
		t.Error("Expected error for zero group size")
	}
}
