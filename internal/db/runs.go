package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/corridor.twin/internal/signal"
)

// Engine labels recorded on a run.
const (
	EngineRemote    = "remote"
	EngineSynthetic = "synthetic"
	EngineImport    = "import"
)

// Run records one harvest session: which engine produced it, the signal
// parameters that were in force, and how much simulated time it covers.
type Run struct {
	ID          string        `json:"id"`
	Engine      string        `json:"engine"`
	TLSID       string        `json:"tls_id"`
	Params      signal.Params `json:"params"`
	Days        int           `json:"days"`
	StepsPerDay int           `json:"steps_per_day"`
	Notes       string        `json:"notes,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// CreateRun inserts a new run. A fresh ID is assigned if the caller left it
// empty, and StartedAt defaults to now.
func (db *DB) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal run params: %w", err)
	}

	query := `
		INSERT INTO runs (id, engine, tls_id, params, days, steps_per_day, notes, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.Exec(
		query,
		run.ID,
		run.Engine,
		run.TLSID,
		string(params),
		run.Days,
		run.StepsPerDay,
		run.Notes,
		float64(run.StartedAt.UnixMilli())/1000,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun stamps the run as finished now.
func (db *DB) FinishRun(id string) error {
	result, err := db.Exec(
		"UPDATE runs SET finished_at = ? WHERE id = ?",
		float64(time.Now().UnixMilli())/1000,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run not found")
	}

	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	query := `
		SELECT id, engine, tls_id, params, days, steps_per_day, notes, started_at, finished_at
		FROM runs
		WHERE id = ?
	`

	row := db.QueryRow(query, id)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns retrieves recent runs, newest first.
func (db *DB) ListRuns() ([]Run, error) {
	query := `
		SELECT id, engine, tls_id, params, days, steps_per_day, notes, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT 100
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(scan func(dest ...any) error) (*Run, error) {
	var (
		run        Run
		params     string
		startedAt  float64
		finishedAt sql.NullFloat64
	)

	err := scan(
		&run.ID,
		&run.Engine,
		&run.TLSID,
		&params,
		&run.Days,
		&run.StepsPerDay,
		&run.Notes,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run params: %w", err)
	}
	run.StartedAt = time.UnixMilli(int64(startedAt * 1000))
	if finishedAt.Valid {
		t := time.UnixMilli(int64(finishedAt.Float64 * 1000))
		run.FinishedAt = &t
	}

	return &run, nil
}
