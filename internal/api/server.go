// Package api serves the corridor's HTTP surface: telemetry and run
// queries, live signal state, runtime parameter updates, congestion
// prediction, and the chart pages.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/corridor.twin/internal/config"
	"github.com/banshee-data/corridor.twin/internal/db"
	"github.com/banshee-data/corridor.twin/internal/signal"
	"github.com/banshee-data/corridor.twin/internal/twin"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SignalSource is the live controller view the server reads. The twin
// runner implements it; it is nil until a session starts.
type SignalSource interface {
	SignalStates() []twin.SignalState
}

type Server struct {
	db      *db.DB
	ctrl    *signal.Controller
	signals SignalSource
	cfg     *config.TwinConfig
	units   string
}

func NewServer(database *db.DB, ctrl *signal.Controller, signals SignalSource, cfg *config.TwinConfig, units string) *Server {
	return &Server{
		db:      database,
		ctrl:    ctrl,
		signals: signals,
		cfg:     cfg,
		units:   units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry", s.listTelemetry)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/signals", s.showSignals)
	mux.HandleFunc("/api/signals/params", s.updateSignalParams)
	mux.HandleFunc("/api/predict", s.predict)
	mux.HandleFunc("/api/model", s.showModel)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/charts/run", s.chartRun)
	mux.HandleFunc("/charts/model", s.chartModel)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// resolveRunID returns the run_id query parameter, or the most recent
// run when the parameter is absent.
func (s *Server) resolveRunID(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("run_id"); id != "" {
		return id, nil
	}
	runs, err := s.db.ListRuns()
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", nil
	}
	return runs[0].ID, nil
}
