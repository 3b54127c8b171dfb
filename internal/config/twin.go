package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/corridor.twin/internal/signal"
)

// DefaultConfigPath is the path to the canonical twin defaults file.
// This is the single source of truth for all default run values.
const DefaultConfigPath = "config/twin.defaults.json"

// TwinConfig represents the root configuration for a corridor run.
// The schema matches the /api/config endpoint so the same JSON can be
// used for both startup configuration and runtime inspection.
type TwinConfig struct {
	// Signal controller params
	MinGreenSeconds   *int `json:"min_green_seconds,omitempty"`
	MaxGreenSeconds   *int `json:"max_green_seconds,omitempty"`
	QueueThreshold    *int `json:"queue_threshold,omitempty"`
	FixedPhaseSeconds *int `json:"fixed_phase_seconds,omitempty"`

	// Run shape params
	StepsPerDay   *int    `json:"steps_per_day,omitempty"`
	Days          *int    `json:"days,omitempty"`
	StepInterval  *string `json:"step_interval,omitempty"`  // duration string like "1s"
	FlushInterval *string `json:"flush_interval,omitempty"` // duration string like "30s"
	PaceRealtime  *bool   `json:"pace_realtime,omitempty"`

	// Engine params
	EngineURL *string `json:"engine_url,omitempty"`
	TLSID     *string `json:"tls_id,omitempty"`

	// Model params
	LagShortSeconds   *int     `json:"lag_short_seconds,omitempty"`
	LagLongSeconds    *int     `json:"lag_long_seconds,omitempty"`
	HorizonSeconds    *int     `json:"horizon_seconds,omitempty"`
	TrainDayCutoff    *int     `json:"train_day_cutoff,omitempty"`
	CongestedSpeedMPS *float64 `json:"congested_speed_mps,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTwinConfig returns a TwinConfig with all fields set to nil.
// Use LoadTwinConfig to load actual values from the defaults file.
func EmptyTwinConfig() *TwinConfig {
	return &TwinConfig{}
}

// LoadTwinConfig loads a TwinConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTwinConfig(path string) (*TwinConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTwinConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical twin defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TwinConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // deeper packages
		"../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTwinConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. A max green
// below the min green is a startup-fatal misconfiguration, as are
// non-positive run dimensions.
func (c *TwinConfig) Validate() error {
	// The signal package owns the window rules; validate the resolved
	// controller params as a unit.
	if err := c.SignalParams().Validate(); err != nil {
		return err
	}

	if c.StepsPerDay != nil && *c.StepsPerDay < 1 {
		return fmt.Errorf("steps_per_day must be positive, got %d", *c.StepsPerDay)
	}
	if c.Days != nil && *c.Days < 1 {
		return fmt.Errorf("days must be positive, got %d", *c.Days)
	}
	if c.HorizonSeconds != nil && *c.HorizonSeconds < 1 {
		return fmt.Errorf("horizon_seconds must be positive, got %d", *c.HorizonSeconds)
	}
	if c.TrainDayCutoff != nil && *c.TrainDayCutoff < 1 {
		return fmt.Errorf("train_day_cutoff must be positive, got %d", *c.TrainDayCutoff)
	}
	if c.CongestedSpeedMPS != nil && *c.CongestedSpeedMPS <= 0 {
		return fmt.Errorf("congested_speed_mps must be positive, got %f", *c.CongestedSpeedMPS)
	}

	// The long lag must be strictly longer than the short lag or the
	// feature columns collapse into each other.
	if c.GetLagShortSeconds() < 1 {
		return fmt.Errorf("lag_short_seconds must be positive, got %d", c.GetLagShortSeconds())
	}
	if c.GetLagLongSeconds() <= c.GetLagShortSeconds() {
		return fmt.Errorf("lag_long_seconds (%d) must exceed lag_short_seconds (%d)",
			c.GetLagLongSeconds(), c.GetLagShortSeconds())
	}

	// Validate StepInterval can be parsed if set
	if c.StepInterval != nil && *c.StepInterval != "" {
		if _, err := time.ParseDuration(*c.StepInterval); err != nil {
			return fmt.Errorf("invalid step_interval '%s': %w", *c.StepInterval, err)
		}
	}

	// Validate FlushInterval can be parsed if set
	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}

	return nil
}

// SignalParams resolves the controller parameters with defaults applied.
func (c *TwinConfig) SignalParams() signal.Params {
	return signal.Params{
		MinGreenSeconds:   c.GetMinGreenSeconds(),
		MaxGreenSeconds:   c.GetMaxGreenSeconds(),
		QueueThreshold:    c.GetQueueThreshold(),
		FixedPhaseSeconds: c.GetFixedPhaseSeconds(),
	}
}

// GetMinGreenSeconds returns the min_green_seconds value or the default.
func (c *TwinConfig) GetMinGreenSeconds() int {
	if c.MinGreenSeconds == nil {
		return 10 // default
	}
	return *c.MinGreenSeconds
}

// GetMaxGreenSeconds returns the max_green_seconds value or the default.
func (c *TwinConfig) GetMaxGreenSeconds() int {
	if c.MaxGreenSeconds == nil {
		return 40 // default
	}
	return *c.MaxGreenSeconds
}

// GetQueueThreshold returns the queue_threshold value or the default.
func (c *TwinConfig) GetQueueThreshold() int {
	if c.QueueThreshold == nil {
		return 5 // default
	}
	return *c.QueueThreshold
}

// GetFixedPhaseSeconds returns the fixed_phase_seconds value or the default.
func (c *TwinConfig) GetFixedPhaseSeconds() int {
	if c.FixedPhaseSeconds == nil {
		return 3 // default
	}
	return *c.FixedPhaseSeconds
}

// GetStepsPerDay returns the steps_per_day value or the default.
func (c *TwinConfig) GetStepsPerDay() int {
	if c.StepsPerDay == nil {
		return 3600 // default: one simulated hour per day at 1s steps
	}
	return *c.StepsPerDay
}

// GetDays returns the days value or the default.
func (c *TwinConfig) GetDays() int {
	if c.Days == nil {
		return 30 // default
	}
	return *c.Days
}

// GetStepInterval parses and returns the StepInterval as a time.Duration.
func (c *TwinConfig) GetStepInterval() time.Duration {
	if c.StepInterval == nil || *c.StepInterval == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.StepInterval)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TwinConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetPaceRealtime returns the pace_realtime value or the default.
func (c *TwinConfig) GetPaceRealtime() bool {
	if c.PaceRealtime == nil {
		return false // default: run steps as fast as the engine allows
	}
	return *c.PaceRealtime
}

// GetEngineURL returns the engine_url value or the default.
func (c *TwinConfig) GetEngineURL() string {
	if c.EngineURL == nil {
		return "ws://localhost:8765" // default
	}
	return *c.EngineURL
}

// GetTLSID returns the tls_id value or the default. An empty value
// means the runner adopts the first signal the engine reports.
func (c *TwinConfig) GetTLSID() string {
	if c.TLSID == nil {
		return ""
	}
	return *c.TLSID
}

// GetLagShortSeconds returns the lag_short_seconds value or the default.
func (c *TwinConfig) GetLagShortSeconds() int {
	if c.LagShortSeconds == nil {
		return 60 // default: one minute
	}
	return *c.LagShortSeconds
}

// GetLagLongSeconds returns the lag_long_seconds value or the default.
func (c *TwinConfig) GetLagLongSeconds() int {
	if c.LagLongSeconds == nil {
		return 300 // default: five minutes
	}
	return *c.LagLongSeconds
}

// GetHorizonSeconds returns the horizon_seconds value or the default.
func (c *TwinConfig) GetHorizonSeconds() int {
	if c.HorizonSeconds == nil {
		return 300 // default: predict five minutes out
	}
	return *c.HorizonSeconds
}

// GetTrainDayCutoff returns the train_day_cutoff value or the default.
func (c *TwinConfig) GetTrainDayCutoff() int {
	if c.TrainDayCutoff == nil {
		return 25 // default: days 1-25 train, the rest test
	}
	return *c.TrainDayCutoff
}

// GetCongestedSpeedMPS returns the congested_speed_mps value or the default.
func (c *TwinConfig) GetCongestedSpeedMPS() float64 {
	if c.CongestedSpeedMPS == nil {
		return 5.0 // default
	}
	return *c.CongestedSpeedMPS
}
