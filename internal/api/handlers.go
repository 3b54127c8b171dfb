package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/corridor.twin/internal/congestion"
	"github.com/banshee-data/corridor.twin/internal/db"
	"github.com/banshee-data/corridor.twin/internal/report"
	"github.com/banshee-data/corridor.twin/internal/signal"
	"github.com/banshee-data/corridor.twin/internal/synth"
	"github.com/banshee-data/corridor.twin/internal/telemetry"
	"github.com/banshee-data/corridor.twin/internal/twin"
	"github.com/banshee-data/corridor.twin/internal/units"
	"github.com/banshee-data/corridor.twin/internal/version"
)

type telemetryResponse struct {
	RunID   string             `json:"run_id"`
	Units   string             `json:"units"`
	Records []telemetry.Record `json:"records"`
}

func (s *Server) listTelemetry(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID, err := s.resolveRunID(r)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to resolve run: %v", err))
		return
	}
	if runID == "" {
		s.writeJSONError(w, http.StatusNotFound, "No runs recorded yet")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	records, err := s.db.RecentTelemetry(runID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve telemetry: %v", err))
		return
	}

	for i := range records {
		records[i].AvgSpeedMPS = units.ConvertSpeed(records[i].AvgSpeedMPS, s.units)
	}

	resp := telemetryResponse{RunID: runID, Units: s.units, Records: records}
	if resp.Records == nil {
		resp.Records = []telemetry.Record{}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write telemetry")
		return
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runs, err := s.db.ListRuns()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}

	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write runs")
		return
	}
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID, err := s.resolveRunID(r)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to resolve run: %v", err))
		return
	}
	if runID == "" {
		s.writeJSONError(w, http.StatusNotFound, "No runs recorded yet")
		return
	}

	days := 0 // all days
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'days' parameter")
			return
		}
		days = parsed
	}

	summaries, err := s.db.DaySummaries(runID, s.cfg.GetCongestedSpeedMPS())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}
	if days > 0 && len(summaries) > days {
		summaries = summaries[len(summaries)-days:]
	}

	// Apply unit conversion to all speed values
	for i := range summaries {
		summaries[i].MeanSpeedMPS = units.ConvertSpeed(summaries[i].MeanSpeedMPS, s.units)
		summaries[i].P50SpeedMPS = units.ConvertSpeed(summaries[i].P50SpeedMPS, s.units)
		summaries[i].P85SpeedMPS = units.ConvertSpeed(summaries[i].P85SpeedMPS, s.units)
	}

	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}

type signalsResponse struct {
	Params signal.Params      `json:"params"`
	States []twin.SignalState `json:"states"`
}

func (s *Server) showSignals(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := signalsResponse{Params: s.ctrl.Params(), States: []twin.SignalState{}}
	if s.signals != nil {
		if states := s.signals.SignalStates(); states != nil {
			resp.States = states
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write signal states")
		return
	}
}

type signalParamsRequest struct {
	MinGreenSeconds   *int `json:"min_green_seconds"`
	MaxGreenSeconds   *int `json:"max_green_seconds"`
	QueueThreshold    *int `json:"queue_threshold"`
	FixedPhaseSeconds *int `json:"fixed_phase_seconds"`
}

func (s *Server) updateSignalParams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req signalParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	// Partial update over the live parameters; omitted fields keep
	// their current values.
	params := s.ctrl.Params()
	if req.MinGreenSeconds != nil {
		params.MinGreenSeconds = *req.MinGreenSeconds
	}
	if req.MaxGreenSeconds != nil {
		params.MaxGreenSeconds = *req.MaxGreenSeconds
	}
	if req.QueueThreshold != nil {
		params.QueueThreshold = *req.QueueThreshold
	}
	if req.FixedPhaseSeconds != nil {
		params.FixedPhaseSeconds = *req.FixedPhaseSeconds
	}

	if err := s.ctrl.SetParams(params); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid signal parameters: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(s.ctrl.Params()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write signal parameters")
		return
	}
}

type predictRequest struct {
	Step         *float64 `json:"step"`
	VehicleCount *float64 `json:"vehicle_count"`
	AvgSpeed     *float64 `json:"avg_speed"`
	Lag1Min      *float64 `json:"lag_1min"`
	Lag5Min      *float64 `json:"lag_5min"`
}

// featureValue resolves one named model input from the request. The
// step is optional and defaults to zero; the traffic features are
// required.
func (req *predictRequest) featureValue(name string) (float64, error) {
	var v *float64
	switch name {
	case "step":
		if req.Step == nil {
			return 0, nil
		}
		return *req.Step, nil
	case "vehicle_count":
		v = req.VehicleCount
	case "avg_speed":
		v = req.AvgSpeed
	case "lag_1min":
		v = req.Lag1Min
	case "lag_5min":
		v = req.Lag5Min
	default:
		return 0, fmt.Errorf("model needs unknown feature %q", name)
	}
	if v == nil {
		return 0, fmt.Errorf("missing required field %q", name)
	}
	return *v, nil
}

type predictResponse struct {
	PredictedVehicleCount float64 `json:"predicted_vehicle_count"`
	HorizonSteps          int     `json:"horizon_steps"`
	Band                  string  `json:"band"`
	Label                 string  `json:"label"`
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	record, err := s.db.LatestModel()
	if errors.Is(err, db.ErrNoModel) {
		s.writeJSONError(w, http.StatusNotFound, "No trained model available; run the trainer first")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return
	}

	var model congestion.Model
	if err := json.Unmarshal(record.Weights, &model); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Stored model is unreadable: %v", err))
		return
	}
	if len(model.Features) == 0 {
		model.Features = record.Features
	}

	// Assemble the input row by feature name so the request stays
	// valid whatever feature set the stored model was trained on.
	row := make([]float64, len(model.Features))
	for i, name := range model.Features {
		v, err := req.featureValue(name)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		row[i] = v
	}

	predicted, err := model.Predict(row)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Prediction failed: %v", err))
		return
	}

	band := congestion.Band(predicted)
	resp := predictResponse{
		PredictedVehicleCount: predicted,
		HorizonSteps:          record.HorizonSteps,
		Band:                  band,
		Label:                 congestion.BandLabel(band),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write prediction")
		return
	}
}

func (s *Server) showModel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	record, err := s.db.LatestModel()
	if errors.Is(err, db.ErrNoModel) {
		s.writeJSONError(w, http.StatusNotFound, "No trained model available")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(record); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write model")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Resolved values, not the sparse file: what the process is
	// actually running with.
	params := s.ctrl.Params()
	cfg := map[string]interface{}{
		"version":             version.Version,
		"units":               s.units,
		"min_green_seconds":   params.MinGreenSeconds,
		"max_green_seconds":   params.MaxGreenSeconds,
		"queue_threshold":     params.QueueThreshold,
		"fixed_phase_seconds": params.FixedPhaseSeconds,
		"steps_per_day":       s.cfg.GetStepsPerDay(),
		"days":                s.cfg.GetDays(),
		"pace_realtime":       s.cfg.GetPaceRealtime(),
		"tls_id":              s.cfg.GetTLSID(),
		"horizon_seconds":     s.cfg.GetHorizonSeconds(),
		"lag_short_seconds":   s.cfg.GetLagShortSeconds(),
		"lag_long_seconds":    s.cfg.GetLagLongSeconds(),
		"congested_speed_mps": s.cfg.GetCongestedSpeedMPS(),
	}

	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

func (s *Server) chartRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID, err := s.resolveRunID(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to resolve run: %v", err), http.StatusInternalServerError)
		return
	}
	if runID == "" {
		http.Error(w, "No runs recorded yet", http.StatusNotFound)
		return
	}

	records, err := s.db.TelemetryForRun(runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve telemetry: %v", err), http.StatusInternalServerError)
		return
	}

	page := report.RunPage{
		Title:             "Corridor Run " + runID,
		Subtitle:          fmt.Sprintf("%d telemetry steps", len(records)),
		Records:           records,
		SpeedUnits:        s.units,
		CongestedBelowMPS: s.cfg.GetCongestedSpeedMPS(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.WriteRunPage(w, page); err != nil {
		http.Error(w, fmt.Sprintf("Failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *Server) chartModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The canonical day shape the synthetic engine and datasets share.
	dp := synth.DayParams{PeakStep: 1800, Width: 600, PeakCars: 180}
	w.Header().Set("Content-Type", "image/png")
	if err := report.WriteDemandCurvePNG(w, dp, s.cfg.GetStepsPerDay()); err != nil {
		http.Error(w, fmt.Sprintf("Failed to render demand curve: %v", err), http.StatusInternalServerError)
		return
	}
}
