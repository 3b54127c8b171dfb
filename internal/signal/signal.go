// Package signal implements the adaptive signal controller: once per
// simulated second it looks at the active phase, how long it has been
// running, and the queue on the controlled approaches, and decides whether
// to hold the phase for one more step or advance to the next phase in the
// cycle. Phase state itself is owned by the simulation engine; the
// controller only observes and commands.
package signal

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Action is the per-step command issued to the engine.
type Action int

const (
	// Hold keeps the current phase active for one more step.
	Hold Action = iota
	// Advance proceeds to the next phase in the fixed cycle.
	Advance
)

func (a Action) String() string {
	if a == Hold {
		return "hold"
	}
	return "advance"
}

// Reason records why a decision was taken. Stored alongside interventions
// so runs can be audited after the fact.
type Reason string

const (
	// ReasonMinimum: the phase has not yet run its minimum duration.
	ReasonMinimum Reason = "minimum"
	// ReasonQueue: the green was extended because the queue is at or
	// above the extension threshold.
	ReasonQueue Reason = "queue"
	// ReasonTimer: minimum served and the queue is below threshold.
	ReasonTimer Reason = "timer"
	// ReasonCap: holding one more step would reach the maximum duration.
	ReasonCap Reason = "cap"
	// ReasonDegraded: the queue observation failed this step, so the
	// controller fell back to fixed-timer behaviour.
	ReasonDegraded Reason = "degraded"
)

// Decision is the output of one observe-decide cycle.
type Decision struct {
	Action Action
	Reason Reason
}

// Phase is one entry in a junction's cycle. State uses the engine's
// per-approach encoding (for example "GrGr"); a phase is green if any
// approach shows G or g. Durations are whole simulated seconds.
type Phase struct {
	State      string
	MinSeconds int
	MaxSeconds int
}

// Green reports whether any controlled approach has right-of-way.
func (p Phase) Green() bool {
	return strings.ContainsAny(p.State, "Gg")
}

// Program is the fixed cycle for one junction. The cycle order is owned
// by the engine; the controller only times phases within it.
type Program struct {
	TLSID  string
	Phases []Phase
}

// Phase returns the phase at index i, wrapping around the cycle.
func (pr Program) Phase(i int) Phase {
	if len(pr.Phases) == 0 {
		return Phase{}
	}
	return pr.Phases[i%len(pr.Phases)]
}

// Timer is the per-junction elapsed state. It is a plain value owned by
// the run loop: passed into each Tick and returned updated, never kept as
// package or controller state.
type Timer struct {
	PhaseIndex int
	Elapsed    int // whole seconds in the current phase
}

// Observation is the queue reading for one step. OK is false when the
// engine query failed; the controller then degrades to timer behaviour
// instead of propagating the failure.
type Observation struct {
	Queue int
	OK    bool
}

// Params are the controller tuning values. They are configuration, not
// constants: loaded at startup and updatable at runtime through the API,
// with the same validation both times.
type Params struct {
	MinGreenSeconds   int `json:"min_green_seconds"`
	MaxGreenSeconds   int `json:"max_green_seconds"`
	QueueThreshold    int `json:"queue_threshold"`
	FixedPhaseSeconds int `json:"fixed_phase_seconds"` // yellow/all-red phases
}

// Validate checks the parameter set. Violations are fatal at startup.
func (p Params) Validate() error {
	if p.MinGreenSeconds <= 0 {
		return fmt.Errorf("min green must be positive, got %d", p.MinGreenSeconds)
	}
	if p.MaxGreenSeconds < p.MinGreenSeconds {
		return fmt.Errorf("max green (%d) must not be less than min green (%d)",
			p.MaxGreenSeconds, p.MinGreenSeconds)
	}
	if p.QueueThreshold < 0 {
		return fmt.Errorf("queue threshold must not be negative, got %d", p.QueueThreshold)
	}
	if p.FixedPhaseSeconds <= 0 {
		return fmt.Errorf("fixed phase duration must be positive, got %d", p.FixedPhaseSeconds)
	}
	return nil
}

// Decide produces the action for one step. It is a pure function: the
// same phase, elapsed time, observation and threshold always yield the
// same decision.
//
// elapsed counts the whole seconds the phase has already been active. A
// Hold lets the phase run one more second, so the cap check anticipates:
// holding at elapsed = max-1 would land exactly on the maximum, and the
// decision is already Advance.
func Decide(phase Phase, elapsed int, obs Observation, queueThreshold int) Decision {
	switch {
	case elapsed < phase.MinSeconds:
		// Below minimum the queue is ignored entirely; the phase just
		// continues toward its minimum.
		return Decision{Action: Hold, Reason: ReasonMinimum}
	case elapsed+1 >= phase.MaxSeconds:
		return Decision{Action: Advance, Reason: ReasonCap}
	case !obs.OK:
		return Decision{Action: Advance, Reason: ReasonDegraded}
	case phase.Green() && obs.Queue >= queueThreshold:
		return Decision{Action: Hold, Reason: ReasonQueue}
	default:
		return Decision{Action: Advance, Reason: ReasonTimer}
	}
}

// BuildProgram assembles a Program from the engine's phase state strings.
// Green phases get the configured min/max window; non-green phases run as
// fixed timers.
func BuildProgram(tlsID string, states []string, p Params) Program {
	phases := make([]Phase, len(states))
	for i, st := range states {
		ph := Phase{State: st}
		if ph.Green() {
			ph.MinSeconds = p.MinGreenSeconds
			ph.MaxSeconds = p.MaxGreenSeconds
		} else {
			ph.MinSeconds = p.FixedPhaseSeconds
			ph.MaxSeconds = p.FixedPhaseSeconds
		}
		phases[i] = ph
	}
	return Program{TLSID: tlsID, Phases: phases}
}

// Junction is the slice of the engine the controller drives: one queue
// query and one command per junction per step.
type Junction interface {
	// QueueLength returns the number of halting vehicles on the
	// junction's controlled approaches.
	QueueLength(ctx context.Context, tlsID string) (int, error)
	// HoldPhase keeps the junction's current phase for one more step.
	HoldPhase(ctx context.Context, tlsID string) error
	// AdvancePhase moves the junction to the next phase in its cycle.
	AdvancePhase(ctx context.Context, tlsID string) error
}

// Controller applies the decision policy to a junction. It owns only the
// tuning parameters (guarded for runtime updates); all per-junction
// elapsed state lives in the caller's Timers.
type Controller struct {
	mu     sync.Mutex
	params Params
}

// NewController validates the parameters and returns a controller.
func NewController(params Params) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signal parameters: %w", err)
	}
	return &Controller{params: params}, nil
}

// Params returns the active parameter set.
func (c *Controller) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// SetParams swaps the parameter set at runtime, applying the same
// validation as startup.
func (c *Controller) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p
	return nil
}

// Outcome reports one controller cycle: the decision taken, the queue
// observation behind it, and the phase timing the decision applied to.
// The run loop records these as interventions and folds the queue
// reading into the step's telemetry.
type Outcome struct {
	Decision Decision
	Obs      Observation
	Phase    int
	Elapsed  int
}

// Tick runs one observe-decide-act cycle for a junction and returns the
// updated timer plus the cycle's outcome. The queue is sampled every
// step; a failed query degrades the observation rather than erroring.
// Only the command itself can fail, and in that case the timer is
// returned unchanged so the next step retries from the same state.
func (c *Controller) Tick(ctx context.Context, j Junction, program Program, tm Timer) (Timer, Outcome, error) {
	params := c.Params()
	phase := program.Phase(tm.PhaseIndex)

	q, err := j.QueueLength(ctx, program.TLSID)
	obs := Observation{Queue: q, OK: err == nil}

	out := Outcome{
		Decision: Decide(phase, tm.Elapsed, obs, params.QueueThreshold),
		Obs:      obs,
		Phase:    tm.PhaseIndex,
		Elapsed:  tm.Elapsed,
	}

	switch out.Decision.Action {
	case Hold:
		if err := j.HoldPhase(ctx, program.TLSID); err != nil {
			return tm, out, fmt.Errorf("hold phase on %s: %w", program.TLSID, err)
		}
		tm.Elapsed++
	case Advance:
		if err := j.AdvancePhase(ctx, program.TLSID); err != nil {
			return tm, out, fmt.Errorf("advance phase on %s: %w", program.TLSID, err)
		}
		if n := len(program.Phases); n > 0 {
			tm.PhaseIndex = (tm.PhaseIndex + 1) % n
		}
		tm.Elapsed = 0
	}
	return tm, out, nil
}
