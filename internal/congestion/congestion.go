// Package congestion fits and evaluates the linear congestion-prediction
// model. The fit itself is an ordinary least-squares solve through gonum's
// QR factorization; this package only assembles the design matrix and
// interprets the result.
package congestion

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/corridor.twin/internal/features"
)

// Model is a fitted linear predictor of vehicle count HorizonSteps ahead.
type Model struct {
	Features     []string  `json:"features"`
	Intercept    float64   `json:"intercept"`
	Weights      []float64 `json:"weights"`
	HorizonSteps int       `json:"horizon_steps"`
}

// Predict returns the predicted vehicle count for one feature row, in the
// same column order as Features.
func (m *Model) Predict(row []float64) (float64, error) {
	if len(row) != len(m.Weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.Weights), len(row))
	}
	pred := m.Intercept
	for i, w := range m.Weights {
		pred += w * row[i]
	}
	return pred, nil
}

// Fit solves the least-squares problem over the training set and returns
// the fitted model.
func Fit(train *features.Set, horizonSteps int) (*Model, error) {
	n := train.Len()
	p := len(train.Names)
	if n <= p+1 {
		return nil, fmt.Errorf("not enough training rows: %d rows for %d features", n, p)
	}

	// Design matrix with a leading intercept column.
	x := mat.NewDense(n, p+1, nil)
	y := mat.NewVecDense(n, nil)
	for i, row := range train.Rows {
		x.Set(i, 0, 1)
		for j, v := range row {
			x.Set(i, j+1, v)
		}
		y.SetVec(i, train.Targets[i])
	}

	var qr mat.QR
	qr.Factorize(x)

	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		// A Condition error means the system is ill-conditioned but a
		// solution was still computed; anything else is fatal.
		if _, ok := err.(mat.Condition); !ok {
			return nil, fmt.Errorf("least squares solve failed: %w", err)
		}
	}

	model := &Model{
		Features:     append([]string(nil), train.Names...),
		Intercept:    beta.AtVec(0),
		Weights:      make([]float64, p),
		HorizonSteps: horizonSteps,
	}
	for j := 0; j < p; j++ {
		model.Weights[j] = beta.AtVec(j + 1)
	}

	return model, nil
}

// Metrics are the evaluation results of a model on a held-out set.
type Metrics struct {
	R2  float64 `json:"r2"`
	MSE float64 `json:"mse"`
}

// Evaluate scores the model on a test set, returning R² and mean squared
// error. R² is 0 when the test targets have no variance.
func Evaluate(m *Model, test *features.Set) (Metrics, error) {
	n := test.Len()
	if n == 0 {
		return Metrics{}, fmt.Errorf("empty test set")
	}

	var mean float64
	for _, t := range test.Targets {
		mean += t
	}
	mean /= float64(n)

	var ssRes, ssTot float64
	for i, row := range test.Rows {
		pred, err := m.Predict(row)
		if err != nil {
			return Metrics{}, err
		}
		d := test.Targets[i] - pred
		ssRes += d * d
		dt := test.Targets[i] - mean
		ssTot += dt * dt
	}

	metrics := Metrics{MSE: ssRes / float64(n)}
	if ssTot > 0 {
		metrics.R2 = 1 - ssRes/ssTot
	}

	return metrics, nil
}

// Congestion bands for a predicted vehicle count.
const (
	BandFreeFlow = "free_flow"
	BandModerate = "moderate"
	BandSevere   = "severe"
)

// Band classifies a predicted vehicle count: above 200 vehicles severe,
// above 100 moderate, otherwise free flow.
func Band(predicted float64) string {
	switch {
	case predicted > 200:
		return BandSevere
	case predicted > 100:
		return BandModerate
	default:
		return BandFreeFlow
	}
}

// BandLabel returns the operator-facing label for a band.
func BandLabel(band string) string {
	switch band {
	case BandSevere:
		return "🔴 Severe Congestion"
	case BandModerate:
		return "🟡 Moderate Traffic"
	default:
		return "🟢 Free Flow"
	}
}

// Artifact is a trained model together with its evaluation, the form that
// is written to disk and into the models table.
type Artifact struct {
	Model     Model     `json:"model"`
	Metrics   Metrics   `json:"metrics"`
	TrainRows int       `json:"train_rows"`
	TestRows  int       `json:"test_rows"`
	TrainedAt time.Time `json:"trained_at"`
}

// Save writes the artifact as indented JSON.
func (a *Artifact) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	return nil
}

// LoadArtifact reads an artifact written by Save.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	return &a, nil
}
