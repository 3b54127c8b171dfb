package db

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/corridor.twin/internal/telemetry"
)

// InsertTelemetryBatch writes a batch of step records for a run in one
// transaction. The harvest loop flushes on an interval, so batches are
// typically a few dozen rows.
func (db *DB) InsertTelemetryBatch(runID string, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO telemetry (run_id, day, step, vehicle_count, avg_speed, max_queue)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare telemetry insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(runID, rec.Day, rec.Step, rec.VehicleCount, rec.AvgSpeedMPS, rec.MaxQueue); err != nil {
			return fmt.Errorf("failed to insert telemetry row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit telemetry batch: %w", err)
	}
	return nil
}

// TelemetryForRun retrieves all step records for a run ordered by day and step.
func (db *DB) TelemetryForRun(runID string) ([]telemetry.Record, error) {
	return db.queryTelemetry(`
		SELECT run_id, day, step, vehicle_count, avg_speed, max_queue
		FROM telemetry
		WHERE run_id = ?
		ORDER BY day, step
	`, runID)
}

// TelemetryForDay retrieves the step records of a single simulated day.
func (db *DB) TelemetryForDay(runID string, day int) ([]telemetry.Record, error) {
	return db.queryTelemetry(`
		SELECT run_id, day, step, vehicle_count, avg_speed, max_queue
		FROM telemetry
		WHERE run_id = ? AND day = ?
		ORDER BY step
	`, runID, day)
}

// RecentTelemetry retrieves the newest limit step records of a run in
// chronological order.
func (db *DB) RecentTelemetry(runID string, limit int) ([]telemetry.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	records, err := db.queryTelemetry(`
		SELECT run_id, day, step, vehicle_count, avg_speed, max_queue
		FROM telemetry
		WHERE run_id = ?
		ORDER BY day DESC, step DESC
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (db *DB) queryTelemetry(query string, args ...any) ([]telemetry.Record, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var records []telemetry.Record
	for rows.Next() {
		var rec telemetry.Record
		if err := rows.Scan(&rec.RunID, &rec.Day, &rec.Step, &rec.VehicleCount, &rec.AvgSpeedMPS, &rec.MaxQueue); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry: %w", err)
	}

	return records, nil
}

// DaySummary aggregates one simulated day of a run. Speed percentiles are
// computed over the per-step mean speeds; CongestedShare is the fraction of
// steps whose mean speed fell below the caller's congestion threshold.
type DaySummary struct {
	Day            int     `json:"day"`
	Records        int     `json:"records"`
	TotalVehicles  int64   `json:"total_vehicles"`
	MeanSpeedMPS   float64 `json:"mean_speed_mps"`
	P50SpeedMPS    float64 `json:"p50_speed_mps"`
	P85SpeedMPS    float64 `json:"p85_speed_mps"`
	MaxQueue       int     `json:"max_queue"`
	CongestedShare float64 `json:"congested_share"`
}

// DaySummaries rolls a run up into one row per simulated day.
func (db *DB) DaySummaries(runID string, congestedBelowMPS float64) ([]DaySummary, error) {
	records, err := db.TelemetryForRun(runID)
	if err != nil {
		return nil, err
	}

	summaries := []DaySummary{}
	var (
		speeds    []float64
		current   DaySummary
		congested int
		open      bool
	)

	flush := func() {
		if !open {
			return
		}
		sort.Float64s(speeds)
		current.MeanSpeedMPS = stat.Mean(speeds, nil)
		current.P50SpeedMPS = stat.Quantile(0.5, stat.Empirical, speeds, nil)
		current.P85SpeedMPS = stat.Quantile(0.85, stat.Empirical, speeds, nil)
		current.CongestedShare = float64(congested) / float64(current.Records)
		summaries = append(summaries, current)
	}

	for _, rec := range records {
		if !open || rec.Day != current.Day {
			flush()
			current = DaySummary{Day: rec.Day}
			speeds = speeds[:0]
			congested = 0
			open = true
		}
		current.Records++
		current.TotalVehicles += int64(rec.VehicleCount)
		if rec.MaxQueue > current.MaxQueue {
			current.MaxQueue = rec.MaxQueue
		}
		if rec.AvgSpeedMPS < congestedBelowMPS {
			congested++
		}
		speeds = append(speeds, rec.AvgSpeedMPS)
	}
	flush()

	return summaries, nil
}

// RollupBucket aggregates a fixed window of steps within one day.
type RollupBucket struct {
	Day          int     `json:"day"`
	StartStep    int     `json:"start_step"`
	Records      int     `json:"records"`
	Vehicles     int64   `json:"vehicles"`
	MeanSpeedMPS float64 `json:"mean_speed_mps"`
	MaxQueue     int     `json:"max_queue"`
}

// TelemetryRollup groups a run's telemetry into buckets of groupSteps steps.
// A group size of 300 turns a 3600-step day into twelve 5-minute buckets.
func (db *DB) TelemetryRollup(runID string, groupSteps int) ([]RollupBucket, error) {
	if groupSteps <= 0 {
		return nil, fmt.Errorf("group size must be positive, got %d", groupSteps)
	}

	rows, err := db.Query(`
		SELECT day, (step / ?) * ? AS bucket,
		       COUNT(*), SUM(vehicle_count), AVG(avg_speed), MAX(max_queue)
		FROM telemetry
		WHERE run_id = ?
		GROUP BY day, bucket
		ORDER BY day, bucket
	`, groupSteps, groupSteps, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry rollup: %w", err)
	}
	defer rows.Close()

	buckets := []RollupBucket{}
	for rows.Next() {
		var b RollupBucket
		if err := rows.Scan(&b.Day, &b.StartStep, &b.Records, &b.Vehicles, &b.MeanSpeedMPS, &b.MaxQueue); err != nil {
			return nil, fmt.Errorf("failed to scan rollup bucket: %w", err)
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rollup buckets: %w", err)
	}

	return buckets, nil
}
