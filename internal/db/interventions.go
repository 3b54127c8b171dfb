package db

import (
	"fmt"
)

// Intervention records one controller decision that was applied to the
// engine: which signal, what the controller did and why, and the queue and
// phase-elapsed readings it acted on.
type Intervention struct {
	RunID   string `json:"run_id"`
	Day     int    `json:"day"`
	Step    int    `json:"step"`
	TLSID   string `json:"tls_id"`
	Action  string `json:"action"`
	Reason  string `json:"reason"`
	Queue   int    `json:"queue"`
	Elapsed int    `json:"elapsed"`
}

// RecordInterventions writes a batch of interventions in one transaction.
func (db *DB) RecordInterventions(interventions []Intervention) error {
	if len(interventions) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO interventions (run_id, day, step, tls_id, action, reason, queue, elapsed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare intervention insert: %w", err)
	}
	defer stmt.Close()

	for _, iv := range interventions {
		if _, err := stmt.Exec(iv.RunID, iv.Day, iv.Step, iv.TLSID, iv.Action, iv.Reason, iv.Queue, iv.Elapsed); err != nil {
			return fmt.Errorf("failed to insert intervention: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interventions: %w", err)
	}
	return nil
}

// InterventionsForRun retrieves all interventions of a run in step order.
func (db *DB) InterventionsForRun(runID string) ([]Intervention, error) {
	return db.queryInterventions(`
		SELECT run_id, day, step, tls_id, action, reason, queue, elapsed
		FROM interventions
		WHERE run_id = ?
		ORDER BY day, step
	`, runID)
}

// InterventionsForDay retrieves the interventions of a single simulated day.
func (db *DB) InterventionsForDay(runID string, day int) ([]Intervention, error) {
	return db.queryInterventions(`
		SELECT run_id, day, step, tls_id, action, reason, queue, elapsed
		FROM interventions
		WHERE run_id = ? AND day = ?
		ORDER BY step
	`, runID, day)
}

func (db *DB) queryInterventions(query string, args ...any) ([]Intervention, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()

	var interventions []Intervention
	for rows.Next() {
		var iv Intervention
		if err := rows.Scan(&iv.RunID, &iv.Day, &iv.Step, &iv.TLSID, &iv.Action, &iv.Reason, &iv.Queue, &iv.Elapsed); err != nil {
			return nil, fmt.Errorf("failed to scan intervention: %w", err)
		}
		interventions = append(interventions, iv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interventions: %w", err)
	}

	return interventions, nil
}

// InterventionCounts tallies a run's interventions by decision reason.
func (db *DB) InterventionCounts(runID string) (map[string]int64, error) {
	rows, err := db.Query(`
		SELECT reason, COUNT(*)
		FROM interventions
		WHERE run_id = ?
		GROUP BY reason
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query intervention counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan intervention count: %w", err)
		}
		counts[reason] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intervention counts: %w", err)
	}

	return counts, nil
}
