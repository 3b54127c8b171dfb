package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/corridor.twin/internal/congestion"
	"github.com/banshee-data/corridor.twin/internal/db"
	"github.com/banshee-data/corridor.twin/internal/telemetry"
	"github.com/banshee-data/corridor.twin/internal/units"
)

func TestListTelemetry(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	run := seedRunWithTelemetry(t, database)

	w := doRequest(t, s, http.MethodGet, "/api/telemetry?run_id="+run.ID+"&limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp telemetryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.RunID != run.ID || resp.Units != "mps" {
		t.Errorf("envelope = %+v", resp)
	}
	if len(resp.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(resp.Records))
	}
	// The newest two, in chronological order.
	if resp.Records[0].Day != 1 || resp.Records[0].Step != 0 {
		t.Errorf("first record = day %d step %d", resp.Records[0].Day, resp.Records[0].Step)
	}
	if resp.Records[1].Day != 1 || resp.Records[1].Step != 1 {
		t.Errorf("second record = day %d step %d", resp.Records[1].Day, resp.Records[1].Step)
	}
}

func TestListTelemetryConvertsUnits(t *testing.T) {
	s, database := newTestServer(t, units.KMPH)
	run := seedRunWithTelemetry(t, database)

	w := doRequest(t, s, http.MethodGet, "/api/telemetry?run_id="+run.ID+"&limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp telemetryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	// Day 1 step 1 was stored at 3 m/s.
	if got := resp.Records[0].AvgSpeedMPS; got < 10.7 || got > 10.9 {
		t.Errorf("speed = %f, want 3 m/s as ~10.8 km/h", got)
	}
}

func TestListTelemetryDefaultsToLatestRun(t *testing.T) {
	s, database := newTestServer(t, units.MPS)

	older := &db.Run{Engine: db.EngineSynthetic, TLSID: "J1", Params: testParams(),
		StartedAt: time.Now().Add(-time.Hour)}
	if err := database.CreateRun(older); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := database.InsertTelemetryBatch(older.ID, []telemetry.Record{
		{Day: 0, Step: 0, VehicleCount: 1, AvgSpeedMPS: 9, MaxQueue: 0},
	}); err != nil {
		t.Fatalf("InsertTelemetryBatch: %v", err)
	}
	newest := seedRunWithTelemetry(t, database)

	w := doRequest(t, s, http.MethodGet, "/api/telemetry", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp telemetryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.RunID != newest.ID {
		t.Errorf("run_id = %s, want newest %s", resp.RunID, newest.ID)
	}
}

func TestListTelemetryNoRuns(t *testing.T) {
	s, _ := newTestServer(t, units.MPS)

	w := doRequest(t, s, http.MethodGet, "/api/telemetry", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListTelemetryBadLimit(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	seedRunWithTelemetry(t, database)

	for _, limit := range []string{"x", "0", "-5"} {
		w := doRequest(t, s, http.MethodGet, "/api/telemetry?limit="+limit, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, w.Code)
		}
	}
}

func TestListRuns(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	run := seedRunWithTelemetry(t, database)

	w := doRequest(t, s, http.MethodGet, "/api/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var runs []db.Run
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decoding runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("runs = %+v", runs)
	}
	if runs[0].Params.MinGreenSeconds != 10 {
		t.Errorf("run params did not round-trip: %+v", runs[0].Params)
	}
}

func TestListRunsEmpty(t *testing.T) {
	s, _ := newTestServer(t, units.MPS)

	w := doRequest(t, s, http.MethodGet, "/api/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want empty array", body)
	}
}

func TestShowStats(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	run := seedRunWithTelemetry(t, database)

	w := doRequest(t, s, http.MethodGet, "/api/stats?run_id="+run.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var summaries []db.DaySummary
	if err := json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want 2 days", len(summaries))
	}
	if summaries[0].Day != 0 || summaries[0].Records != 3 {
		t.Errorf("day 0 summary = %+v", summaries[0])
	}
	// Day 1 speeds are 4 and 3 m/s, both under the 5 m/s threshold.
	if summaries[1].CongestedShare != 1.0 {
		t.Errorf("day 1 congested share = %f, want 1.0", summaries[1].CongestedShare)
	}
	if summaries[1].MaxQueue != 11 {
		t.Errorf("day 1 max queue = %d, want 11", summaries[1].MaxQueue)
	}
}

func TestShowStatsLastNDays(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	run := seedRunWithTelemetry(t, database)

	w := doRequest(t, s, http.MethodGet, "/api/stats?run_id="+run.ID+"&days=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var summaries []db.DaySummary
	if err := json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Day != 1 {
		t.Errorf("summaries = %+v, want just day 1", summaries)
	}
}

func TestShowStatsBadDays(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	seedRunWithTelemetry(t, database)

	w := doRequest(t, s, http.MethodGet, "/api/stats?days=0", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func saveTestModel(t *testing.T, database *db.DB, model congestion.Model) *db.ModelRecord {
	t.Helper()

	weights, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("marshaling model: %v", err)
	}
	record := &db.ModelRecord{
		HorizonSteps: model.HorizonSteps,
		Features:     model.Features,
		Weights:      weights,
		R2:           0.9,
		MSE:          120,
		TrainRows:    1000,
		TestRows:     200,
	}
	if err := database.SaveModel(record); err != nil {
		t.Fatalf("SaveModel: %v", err)
	}
	return record
}

func TestPredict(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	saveTestModel(t, database, congestion.Model{
		Features:     []string{"step", "vehicle_count", "avg_speed", "lag_1min", "lag_5min"},
		Intercept:    10,
		Weights:      []float64{0, 1, 0, 0, 0},
		HorizonSteps: 300,
	})

	body := `{"vehicle_count": 150, "avg_speed": 8.5, "lag_1min": 140, "lag_5min": 120}`
	w := doRequest(t, s, http.MethodPost, "/api/predict", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp predictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding prediction: %v", err)
	}
	// intercept 10 + 1*vehicle_count, step defaulting to 0.
	if resp.PredictedVehicleCount != 160 {
		t.Errorf("predicted = %f, want 160", resp.PredictedVehicleCount)
	}
	if resp.Band != congestion.BandModerate {
		t.Errorf("band = %q, want moderate", resp.Band)
	}
	if resp.HorizonSteps != 300 {
		t.Errorf("horizon = %d", resp.HorizonSteps)
	}
	if !strings.Contains(resp.Label, "Moderate") {
		t.Errorf("label = %q", resp.Label)
	}
}

func TestPredictWithStep(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	saveTestModel(t, database, congestion.Model{
		Features:     []string{"step", "vehicle_count", "avg_speed", "lag_1min", "lag_5min"},
		Intercept:    0,
		Weights:      []float64{1, 0, 0, 0, 0},
		HorizonSteps: 300,
	})

	body := `{"step": 1800, "vehicle_count": 1, "avg_speed": 1, "lag_1min": 1, "lag_5min": 1}`
	w := doRequest(t, s, http.MethodPost, "/api/predict", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp predictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding prediction: %v", err)
	}
	if resp.PredictedVehicleCount != 1800 {
		t.Errorf("predicted = %f, want 1800", resp.PredictedVehicleCount)
	}
	if resp.Band != congestion.BandSevere {
		t.Errorf("band = %q, want severe", resp.Band)
	}
}

func TestPredictMissingField(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	saveTestModel(t, database, congestion.Model{
		Features:     []string{"step", "vehicle_count", "avg_speed", "lag_1min", "lag_5min"},
		Weights:      []float64{0, 1, 0, 0, 0},
		HorizonSteps: 300,
	})

	w := doRequest(t, s, http.MethodPost, "/api/predict", `{"vehicle_count": 150}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("avg_speed")) {
		t.Errorf("error should name the missing field, got %s", w.Body.String())
	}
}

func TestPredictNoModel(t *testing.T) {
	s, _ := newTestServer(t, units.MPS)

	w := doRequest(t, s, http.MethodPost, "/api/predict", `{"vehicle_count": 1, "avg_speed": 1, "lag_1min": 1, "lag_5min": 1}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestShowModel(t *testing.T) {
	s, database := newTestServer(t, units.MPS)

	w := doRequest(t, s, http.MethodGet, "/api/model", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status before training = %d, want 404", w.Code)
	}

	saved := saveTestModel(t, database, congestion.Model{
		Features:     []string{"step", "vehicle_count", "avg_speed", "lag_1min", "lag_5min"},
		Intercept:    10,
		Weights:      []float64{0, 1, 0, 0, 0},
		HorizonSteps: 300,
	})

	w = doRequest(t, s, http.MethodGet, "/api/model", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var record db.ModelRecord
	if err := json.Unmarshal(w.Body.Bytes(), &record); err != nil {
		t.Fatalf("decoding model: %v", err)
	}
	if record.ID != saved.ID || record.R2 != 0.9 {
		t.Errorf("record = %+v", record)
	}
}

func TestChartRun(t *testing.T) {
	s, database := newTestServer(t, units.MPS)
	run := seedRunWithTelemetry(t, database)

	w := doRequest(t, s, http.MethodGet, "/charts/run?run_id="+run.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Traffic Congestion") || !strings.Contains(body, "Flow Quality") {
		t.Error("chart page missing expected chart titles")
	}
}

func TestChartRunNoRuns(t *testing.T) {
	s, _ := newTestServer(t, units.MPS)

	w := doRequest(t, s, http.MethodGet, "/charts/run", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestChartModel(t *testing.T) {
	s, _ := newTestServer(t, units.MPS)

	w := doRequest(t, s, http.MethodGet, "/charts/model", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("response is not a PNG")
	}
}
