package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// ErrNoModel is returned when no model has been trained yet.
var ErrNoModel = errors.New("no model trained yet")

// ModelRecord is a persisted congestion model. Weights carries the model's
// own JSON encoding (intercept and per-feature coefficients); the db layer
// treats it as opaque.
type ModelRecord struct {
	ID           string          `json:"id"`
	HorizonSteps int             `json:"horizon_steps"`
	Features     []string        `json:"features"`
	Weights      json.RawMessage `json:"weights"`
	R2           float64         `json:"r2"`
	MSE          float64         `json:"mse"`
	TrainRows    int             `json:"train_rows"`
	TestRows     int             `json:"test_rows"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SaveModel inserts a trained model. A fresh ID is assigned if the caller
// left it empty.
func (db *DB) SaveModel(m *ModelRecord) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	features, err := json.Marshal(m.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal model features: %w", err)
	}

	query := `
		INSERT INTO models (id, horizon_steps, features, weights, r2, mse, train_rows, test_rows, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.Exec(
		query,
		m.ID,
		m.HorizonSteps,
		string(features),
		string(m.Weights),
		m.R2,
		m.MSE,
		m.TrainRows,
		m.TestRows,
		m.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}

	return nil
}

// GetModel retrieves a model by ID.
func (db *DB) GetModel(id string) (*ModelRecord, error) {
	query := `
		SELECT id, horizon_steps, features, weights, r2, mse, train_rows, test_rows, created_at
		FROM models
		WHERE id = ?
	`

	row := db.QueryRow(query, id)
	m, err := scanModel(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("model not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	return m, nil
}

// LatestModel retrieves the most recently trained model.
func (db *DB) LatestModel() (*ModelRecord, error) {
	query := `
		SELECT id, horizon_steps, features, weights, r2, mse, train_rows, test_rows, created_at
		FROM models
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	row := db.QueryRow(query)
	m, err := scanModel(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNoModel
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest model: %w", err)
	}

	return m, nil
}

// ListModels retrieves recent models, newest first.
func (db *DB) ListModels() ([]ModelRecord, error) {
	query := `
		SELECT id, horizon_steps, features, weights, r2, mse, train_rows, test_rows, created_at
		FROM models
		ORDER BY created_at DESC, rowid DESC
		LIMIT 100
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var models []ModelRecord
	for rows.Next() {
		m, err := scanModel(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}

	return models, nil
}

func scanModel(scan func(dest ...any) error) (*ModelRecord, error) {
	var (
		m         ModelRecord
		features  string
		weights   string
		createdAt string
	)

	err := scan(
		&m.ID,
		&m.HorizonSteps,
		&features,
		&weights,
		&m.R2,
		&m.MSE,
		&m.TrainRows,
		&m.TestRows,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(features), &m.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model features: %w", err)
	}
	m.Weights = json.RawMessage(weights)

	t, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		// CURRENT_TIMESTAMP writes the layout above; anything else came
		// from an external tool, try RFC3339 before giving up.
		t, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse model created_at %q: %w", createdAt, err)
		}
	}
	m.CreatedAt = t

	return &m, nil
}
