// Package twin drives a harvest session against a simulation engine:
// once per simulated second it steps the engine, runs the adaptive
// signal controller over every junction, samples network-wide
// telemetry, and fans the records out to the live mux, the database,
// and the end-of-session CSV harvest.
package twin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/corridor.twin/internal/db"
	"github.com/banshee-data/corridor.twin/internal/engine"
	"github.com/banshee-data/corridor.twin/internal/monitoring"
	"github.com/banshee-data/corridor.twin/internal/signal"
	"github.com/banshee-data/corridor.twin/internal/telemetry"
	"github.com/banshee-data/corridor.twin/internal/timeutil"
)

// Store is the slice of the database the runner writes to. A nil store
// runs the session in memory only.
type Store interface {
	InsertTelemetryBatch(runID string, records []telemetry.Record) error
	RecordInterventions(interventions []db.Intervention) error
}

// SessionConfig shapes one harvest session.
type SessionConfig struct {
	RunID       string
	Days        int
	StepsPerDay int

	// TLSID restricts control to a single junction. Empty controls
	// every junction the engine reports.
	TLSID string

	// StepEvery paces the loop to wall time when positive; zero runs
	// the session as fast as the engine allows.
	StepEvery time.Duration

	// FlushEvery is how many telemetry rows to buffer before a
	// database write. Zero flushes only at session end.
	FlushEvery int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Days == 0 {
		c.Days = 1
	}
	if c.StepsPerDay == 0 {
		c.StepsPerDay = 3600
	}
	return c
}

// SessionStats summarizes a completed session.
type SessionStats struct {
	Days          int  `json:"days"`
	Steps         int  `json:"steps"`
	Records       int  `json:"records"`
	QueueHolds    int  `json:"queue_holds"`
	DegradedSteps int  `json:"degraded_steps"`
	CommandErrors int  `json:"command_errors"`
	StatsErrors   int  `json:"stats_errors"`
	Drained       bool `json:"drained"`
}

// SignalState is the live view of one controlled junction, served by
// the API while a session runs.
type SignalState struct {
	TLSID      string    `json:"tls_id"`
	PhaseIndex int       `json:"phase_index"`
	PhaseState string    `json:"phase_state"`
	Green      bool      `json:"green"`
	Elapsed    int       `json:"elapsed_s"`
	Queue      int       `json:"queue"`
	QueueOK    bool      `json:"queue_ok"`
	LastAction string    `json:"last_action"`
	LastReason string    `json:"last_reason"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Runner owns the observe-decide-act loop for one session. The loop is
// strictly sequential: step, control, sample, publish. Only the signal
// snapshot is shared with other goroutines.
type Runner struct {
	cfg   SessionConfig
	eng   engine.Engine
	ctrl  *signal.Controller
	mux   *telemetry.Mux
	store Store
	clock timeutil.Clock

	// Discovered at session start. Programs are rebuilt from these
	// each step so runtime parameter updates take effect immediately.
	order  []string
	phases map[string][]string
	timers map[string]signal.Timer

	mu     sync.Mutex
	states map[string]SignalState

	records    []telemetry.Record
	pendingTel []telemetry.Record
	pendingIv  []db.Intervention
	stats      SessionStats
}

// NewRunner assembles a runner. The mux and store may be nil; a nil
// clock uses the real one.
func NewRunner(eng engine.Engine, ctrl *signal.Controller, mux *telemetry.Mux, store Store, clock timeutil.Clock, cfg SessionConfig) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{
		cfg:    cfg.withDefaults(),
		eng:    eng,
		ctrl:   ctrl,
		mux:    mux,
		store:  store,
		clock:  clock,
		phases: make(map[string][]string),
		timers: make(map[string]signal.Timer),
		states: make(map[string]SignalState),
	}
}

// discover lists the engine's junctions and seeds a timer for each from
// the phase the engine currently shows. Engines that do not report
// their phase ring get a single-phase program built from the live
// state; the controller then times that one phase.
func (r *Runner) discover(ctx context.Context) error {
	lights, err := r.eng.TrafficLights(ctx)
	if err != nil {
		return fmt.Errorf("failed to list traffic lights: %w", err)
	}

	for _, tl := range lights {
		if r.cfg.TLSID != "" && tl.ID != r.cfg.TLSID {
			continue
		}
		states := tl.Phases
		if len(states) == 0 {
			states = []string{tl.PhaseState}
		}
		r.order = append(r.order, tl.ID)
		r.phases[tl.ID] = states
		r.timers[tl.ID] = signal.Timer{PhaseIndex: tl.PhaseIndex}
	}
	sort.Strings(r.order)

	if r.cfg.TLSID != "" && len(r.order) == 0 {
		return fmt.Errorf("traffic light %q not reported by engine", r.cfg.TLSID)
	}
	return nil
}

// Run drives the session to completion. It returns when the configured
// days are done, the engine drains, the context is cancelled, or a
// step fails. Query failures inside a step never end the run; they
// degrade that step and are counted in the stats.
func (r *Runner) Run(ctx context.Context) (SessionStats, error) {
	if err := r.discover(ctx); err != nil {
		return r.stats, err
	}
	monitoring.Logf("twin: session %s online: %d junction(s), %d day(s) of %d steps",
		r.cfg.RunID, len(r.order), r.cfg.Days, r.cfg.StepsPerDay)

	var ticker timeutil.Ticker
	if r.cfg.StepEvery > 0 {
		ticker = r.clock.NewTicker(r.cfg.StepEvery)
		defer ticker.Stop()
	}

	for day := 1; day <= r.cfg.Days; day++ {
		for step := 0; step < r.cfg.StepsPerDay; step++ {
			if ticker != nil {
				select {
				case <-ctx.Done():
				case <-ticker.C():
				}
			}
			if err := ctx.Err(); err != nil {
				return r.finish(err)
			}

			// Session over once nothing is left in or bound for the
			// network. Errors here are not load-bearing; the step
			// itself decides whether the engine is gone.
			if expected, err := r.eng.ExpectedVehicles(ctx); err == nil && expected == 0 {
				monitoring.Logf("twin: engine drained at day %d step %d", day, step)
				r.stats.Drained = true
				return r.finish(nil)
			}

			if err := r.eng.Step(ctx); err != nil {
				if ferr := r.flush(); ferr != nil {
					monitoring.Logf("twin: %v", ferr)
				}
				return r.stats, fmt.Errorf("engine step failed at day %d step %d: %w", day, step, err)
			}
			r.stats.Steps++

			maxQueue := r.controlJunctions(ctx, day, step)
			r.sample(ctx, day, step, maxQueue)

			if r.cfg.FlushEvery > 0 && len(r.pendingTel) >= r.cfg.FlushEvery {
				if err := r.flush(); err != nil {
					monitoring.Logf("twin: %v", err)
				}
			}
		}
		r.stats.Days++
	}
	return r.finish(nil)
}

// controlJunctions runs one controller cycle per junction and returns
// the largest successfully observed queue.
func (r *Runner) controlJunctions(ctx context.Context, day, step int) int {
	maxQueue := 0
	for _, id := range r.order {
		program := signal.BuildProgram(id, r.phases[id], r.ctrl.Params())
		tm, out, err := r.ctrl.Tick(ctx, r.eng, program, r.timers[id])
		if err != nil {
			r.stats.CommandErrors++
			monitoring.Logf("twin: %v", err)
		}
		r.timers[id] = tm

		if out.Obs.OK && out.Obs.Queue > maxQueue {
			maxQueue = out.Obs.Queue
		}

		switch out.Decision.Reason {
		case signal.ReasonQueue:
			r.stats.QueueHolds++
			r.noteIntervention(day, step, id, out)
			if step%100 == 0 {
				monitoring.Logf("twin: intervention at %s: queue=%d, extended green", id, out.Obs.Queue)
			}
		case signal.ReasonDegraded:
			r.stats.DegradedSteps++
			r.noteIntervention(day, step, id, out)
		}

		r.noteState(id, program, tm, out)
	}
	return maxQueue
}

// sample harvests the network-wide snapshot for one step. A failed
// stats query leaves a hole in the telemetry instead of stalling the
// loop.
func (r *Runner) sample(ctx context.Context, day, step, maxQueue int) {
	st, err := r.eng.NetworkStats(ctx)
	if err != nil {
		r.stats.StatsErrors++
		if r.stats.StatsErrors == 1 || step%500 == 0 {
			monitoring.Logf("twin: network stats failed at day %d step %d: %v", day, step, err)
		}
		return
	}

	rec := telemetry.Record{
		RunID:        r.cfg.RunID,
		Day:          day,
		Step:         step,
		VehicleCount: st.VehicleCount,
		AvgSpeedMPS:  st.MeanSpeedMPS,
		MaxQueue:     maxQueue,
		Timestamp:    r.clock.Now(),
	}
	if r.mux != nil {
		r.mux.Publish(rec)
	}
	r.records = append(r.records, rec)
	r.pendingTel = append(r.pendingTel, rec)
	r.stats.Records++

	if step%500 == 0 {
		monitoring.Logf("twin: day %d step %d: %d vehicles, avg speed %.1f m/s, max queue %d",
			day, step, st.VehicleCount, st.MeanSpeedMPS, maxQueue)
	}
}

// noteIntervention buffers one audit row for a decision that extended a
// green on queue or fell back to timer behaviour.
func (r *Runner) noteIntervention(day, step int, tlsID string, out signal.Outcome) {
	queue := out.Obs.Queue
	if !out.Obs.OK {
		queue = -1
	}
	r.pendingIv = append(r.pendingIv, db.Intervention{
		RunID:   r.cfg.RunID,
		Day:     day,
		Step:    step,
		TLSID:   tlsID,
		Action:  out.Decision.Action.String(),
		Reason:  string(out.Decision.Reason),
		Queue:   queue,
		Elapsed: out.Elapsed,
	})
}

// noteState publishes the junction snapshot served by the API.
func (r *Runner) noteState(id string, program signal.Program, tm signal.Timer, out signal.Outcome) {
	phase := program.Phase(tm.PhaseIndex)
	r.mu.Lock()
	r.states[id] = SignalState{
		TLSID:      id,
		PhaseIndex: tm.PhaseIndex,
		PhaseState: phase.State,
		Green:      phase.Green(),
		Elapsed:    tm.Elapsed,
		Queue:      out.Obs.Queue,
		QueueOK:    out.Obs.OK,
		LastAction: out.Decision.Action.String(),
		LastReason: string(out.Decision.Reason),
		UpdatedAt:  r.clock.Now(),
	}
	r.mu.Unlock()
}

// SignalStates returns the live junction snapshots, sorted by ID. Safe
// to call while the session runs.
func (r *Runner) SignalStates() []SignalState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SignalState, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TLSID < out[j].TLSID })
	return out
}

// Harvest returns every record collected this session, for CSV export.
// Call it after Run returns.
func (r *Runner) Harvest() []telemetry.Record {
	return r.records
}

// flush writes the buffered telemetry and interventions to the store.
// On failure the buffers are kept so the next flush retries.
func (r *Runner) flush() error {
	if r.store == nil {
		r.pendingTel = r.pendingTel[:0]
		r.pendingIv = r.pendingIv[:0]
		return nil
	}
	if len(r.pendingTel) > 0 {
		if err := r.store.InsertTelemetryBatch(r.cfg.RunID, r.pendingTel); err != nil {
			return fmt.Errorf("failed to flush telemetry: %w", err)
		}
		r.pendingTel = r.pendingTel[:0]
	}
	if len(r.pendingIv) > 0 {
		if err := r.store.RecordInterventions(r.pendingIv); err != nil {
			return fmt.Errorf("failed to flush interventions: %w", err)
		}
		r.pendingIv = r.pendingIv[:0]
	}
	return nil
}

// finish flushes whatever is buffered and reports the session result.
func (r *Runner) finish(cause error) (SessionStats, error) {
	if err := r.flush(); err != nil {
		if cause == nil {
			return r.stats, err
		}
		monitoring.Logf("twin: %v", err)
	}
	monitoring.Logf("twin: session %s done: %d steps, %d records, %d queue holds, %d degraded",
		r.cfg.RunID, r.stats.Steps, r.stats.Records, r.stats.QueueHolds, r.stats.DegradedSteps)
	return r.stats, cause
}
