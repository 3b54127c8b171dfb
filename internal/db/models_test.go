package db

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSaveAndGetModel(t *testing.T) {
	db := newTestDB(t)

	weights := json.RawMessage(`{"intercept":180.5,"weights":[0.02,0.8,-1.4,0.1,0.05]}`)
	m := &ModelRecord{
		HorizonSteps: 300,
		Features:     []string{"step", "vehicle_count", "avg_speed", "lag_1min", "lag_5min"},
		Weights:      weights,
		R2:           0.87,
		MSE:          142.5,
		TrainRows:    75000,
		TestRows:     15000,
	}
	if err := db.SaveModel(m); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	if m.ID == "" {
		t.Fatal("Expected SaveModel to assign an ID")
	}
	if m.CreatedAt.IsZero() {
		t.Fatal("Expected SaveModel to assign CreatedAt")
	}

	got, err := db.GetModel(m.ID)
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if got.HorizonSteps != 300 {
		t.Errorf("Expected horizon 300, got %d", got.HorizonSteps)
	}
	if len(got.Features) != 5 || got.Features[3] != "lag_1min" {
		t.Errorf("Expected features to round-trip, got %v", got.Features)
	}
	if string(got.Weights) != string(weights) {
		t.Errorf("Expected weights to round-trip, got %s", got.Weights)
	}
	if got.R2 != 0.87 || got.MSE != 142.5 {
		t.Errorf("Expected r2=0.87 mse=142.5, got r2=%f mse=%f", got.R2, got.MSE)
	}
	if got.TrainRows != 75000 || got.TestRows != 15000 {
		t.Errorf("Expected 75000/15000 train/test rows, got %d/%d", got.TrainRows, got.TestRows)
	}
	if got.CreatedAt.Sub(m.CreatedAt).Abs() > time.Second {
		t.Errorf("Expected created_at %v, got %v", m.CreatedAt, got.CreatedAt)
	}
}

func TestGetModelNotFound(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.GetModel("no-such-model"); err == nil {
		t.Error("Expected error for missing model")
	}
}

func TestLatestModel(t *testing.T) {
	db := newTestDB(t)

	// No models yet
	if _, err := db.LatestModel(); !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel before any model is trained, got %v", err)
	}

	first := &ModelRecord{HorizonSteps: 300, Weights: json.RawMessage(`{}`), R2: 0.6}
	second := &ModelRecord{HorizonSteps: 300, Weights: json.RawMessage(`{}`), R2: 0.8}
	for _, m := range []*ModelRecord{first, second} {
		if err := db.SaveModel(m); err != nil {
			t.Fatalf("SaveModel failed: %v", err)
		}
	}

	// Both saves land within the same second; insertion order must win.
	latest, err := db.LatestModel()
	if err != nil {
		t.Fatalf("LatestModel failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("Expected latest model %s, got %s", second.ID, latest.ID)
	}
}

func TestListModels(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 3; i++ {
		m := &ModelRecord{HorizonSteps: 300, Weights: json.RawMessage(`{}`)}
		if err := db.SaveModel(m); err != nil {
			t.Fatalf("SaveModel failed: %v", err)
		}
	}

	models, err := db.ListModels()
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 3 {
		t.Errorf("Expected 3 models, got %d", len(models))
	}
}
