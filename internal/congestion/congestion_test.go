package congestion

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/corridor.twin/internal/features"
)

// linearSet builds a feature set whose target is an exact linear
// function of the features, so the least-squares fit must recover the
// coefficients.
func linearSet(n int, noise float64, rng *rand.Rand) *features.Set {
	set := &features.Set{Names: []string{"vehicle_count", "avg_speed"}}
	for i := 0; i < n; i++ {
		count := rng.Float64() * 200
		speed := 1 + rng.Float64()*14
		target := 3 + 0.8*count - 1.5*speed
		if noise > 0 {
			target += rng.NormFloat64() * noise
		}
		set.Rows = append(set.Rows, []float64{count, speed})
		set.Targets = append(set.Targets, target)
		set.Days = append(set.Days, 1)
	}
	return set
}

func TestFitRecoversLinearRelationship(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	model, err := Fit(linearSet(200, 0, rng), 300)
	require.NoError(t, err)

	assert.Equal(t, 300, model.HorizonSteps)
	assert.InDelta(t, 3, model.Intercept, 1e-6)
	assert.InDelta(t, 0.8, model.Weights[0], 1e-6, "vehicle_count weight")
	assert.InDelta(t, -1.5, model.Weights[1], 1e-6, "avg_speed weight")
}

func TestFitNeedsEnoughRows(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	_, err := Fit(linearSet(3, 0, rng), 300)
	assert.Error(t, err)
}

func TestPredict(t *testing.T) {
	model := &Model{
		Features:  []string{"vehicle_count", "avg_speed"},
		Intercept: 3,
		Weights:   []float64{0.8, -1.5},
	}

	got, err := model.Predict([]float64{100, 10})
	require.NoError(t, err)
	assert.InDelta(t, 3+0.8*100-1.5*10, got, 1e-9)

	_, err = model.Predict([]float64{100})
	assert.Error(t, err, "wrong feature count must be rejected")
}

func TestEvaluate(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	train := linearSet(200, 0.5, rng)
	test := linearSet(50, 0.5, rng)

	model, err := Fit(train, 300)
	require.NoError(t, err)

	metrics, err := Evaluate(model, test)
	require.NoError(t, err)

	// Noise sigma 0.5 over a target range of ~300: the fit should be
	// essentially perfect.
	assert.Greater(t, metrics.R2, 0.99)
	assert.GreaterOrEqual(t, metrics.MSE, 0.0)
	assert.Less(t, metrics.MSE, 1.0, "MSE should sit near the noise variance")

	_, err = Evaluate(model, &features.Set{Names: test.Names})
	assert.Error(t, err, "empty test set must be rejected")
}

func TestEvaluateConstantTargets(t *testing.T) {
	model := &Model{Features: []string{"x"}, Intercept: 5, Weights: []float64{0}}
	set := &features.Set{
		Names:   []string{"x"},
		Rows:    [][]float64{{1}, {2}, {3}},
		Targets: []float64{5, 5, 5},
		Days:    []int{1, 1, 1},
	}

	metrics, err := Evaluate(model, set)
	require.NoError(t, err)

	// No target variance: R2 pins to zero instead of dividing by zero.
	assert.Zero(t, metrics.R2)
	assert.Zero(t, metrics.MSE)
}

func TestBands(t *testing.T) {
	tests := []struct {
		predicted float64
		want      string
	}{
		{0, BandFreeFlow},
		{100, BandFreeFlow},
		{100.5, BandModerate},
		{200, BandModerate},
		{201, BandSevere},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Band(tt.predicted), "Band(%v)", tt.predicted)
	}

	assert.NotEmpty(t, BandLabel(BandSevere))
	assert.NotEqual(t, BandLabel(BandFreeFlow), BandLabel(BandSevere))
}

func TestArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")

	artifact := &Artifact{
		Model: Model{
			Features:     []string{"vehicle_count", "avg_speed"},
			Intercept:    3,
			Weights:      []float64{0.8, -1.5},
			HorizonSteps: 300,
		},
		Metrics:   Metrics{R2: 0.97, MSE: 12.5},
		TrainRows: 800,
		TestRows:  200,
	}
	require.NoError(t, artifact.Save(path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, loaded.Model.Intercept)
	assert.Len(t, loaded.Model.Weights, 2)
	assert.Equal(t, 0.97, loaded.Metrics.R2)
	assert.Equal(t, 800, loaded.TrainRows)

	_, err = LoadArtifact(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err, "missing artifact must error")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0644))
	_, err = LoadArtifact(bad)
	assert.Error(t, err, "malformed artifact must error")
}
