package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
)

// Default phase ring for the synthetic junction: two green phases with
// their clearance yellows, matching what netconvert guesses for a plain
// four-arm crossing.
var syntheticPhases = []syntheticPhase{
	{state: "GGrr", duration: 31},
	{state: "yyrr", duration: 3},
	{state: "rrGG", duration: 31},
	{state: "rryy", duration: 3},
}

type syntheticPhase struct {
	state    string
	duration int
}

// SyntheticParams shapes one simulated day. Zero values pick the
// defaults observed in harvested corridor data: demand peaks around
// step 1800 with roughly 180 vehicles in the network.
type SyntheticParams struct {
	Seed      int64
	PeakStep  float64
	PeakWidth float64
	PeakCars  float64

	// DayLength is the number of steps after which the demand curve
	// repeats, so multi-day sessions see the same daily shape.
	DayLength int

	// DischargeRate is how many queued vehicles a green approach
	// releases per second.
	DischargeRate float64
}

func (p SyntheticParams) withDefaults() SyntheticParams {
	if p.PeakStep == 0 {
		p.PeakStep = 1800
	}
	if p.PeakWidth == 0 {
		p.PeakWidth = 600
	}
	if p.PeakCars == 0 {
		p.PeakCars = 180
	}
	if p.DayLength == 0 {
		p.DayLength = 3600
	}
	if p.DischargeRate == 0 {
		p.DischargeRate = 1.2
	}
	return p
}

// Synthetic is an in-process engine for one junction. Demand follows a
// bell curve over the day; vehicles accumulate on the two approaches
// and drain while their approach shows green. It exists so the twin,
// its tests, and the sweep can run without a SUMO install.
type Synthetic struct {
	mu     sync.Mutex
	rng    *rand.Rand
	p      SyntheticParams
	step   int
	closed bool

	phaseIndex int
	remaining  int

	// Per-approach queues with fractional arrival carry, so low demand
	// still trickles vehicles in instead of rounding to zero forever.
	queues [2]float64
	carry  [2]float64
}

// NewSynthetic builds a synthetic session. The same seed replays the
// same day.
func NewSynthetic(p SyntheticParams) *Synthetic {
	p = p.withDefaults()
	return &Synthetic{
		rng:       rand.New(rand.NewSource(p.Seed)),
		p:         p,
		remaining: syntheticPhases[0].duration,
	}
}

// demand is the bell-curve vehicle count at a step, before noise. The
// curve repeats every DayLength steps.
func (s *Synthetic) demand(step int) float64 {
	d := float64(step%s.p.DayLength) - s.p.PeakStep
	return s.p.PeakCars * math.Exp(-(d*d)/(2*s.p.PeakWidth*s.p.PeakWidth))
}

// approachGreen reports whether approach i shows green in state. The
// first half of the state string is approach 0, the second approach 1.
func approachGreen(state string, i int) bool {
	half := len(state) / 2
	if half == 0 {
		return false
	}
	part := state[:half]
	if i == 1 {
		part = state[half:]
	}
	return strings.ContainsAny(part, "Gg")
}

// Step advances the junction by one second: arrivals join the approach
// queues, the green approach discharges, and the phase clock runs down
// unless a controller intervened this step.
func (s *Synthetic) Step(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("synthetic engine: session closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.step++

	// Arrivals: split the network demand across the two approaches.
	rate := s.demand(s.step) / 240
	for i := range s.queues {
		s.carry[i] += rate
		arrived := math.Floor(s.carry[i])
		s.carry[i] -= arrived
		s.queues[i] += arrived
	}

	// Discharge whichever approach has green.
	state := syntheticPhases[s.phaseIndex].state
	for i := range s.queues {
		if approachGreen(state, i) {
			s.queues[i] = math.Max(0, s.queues[i]-s.p.DischargeRate)
		}
	}

	// Phase clock. HoldPhase tops the remaining time up, so a held
	// phase never expires here.
	s.remaining--
	if s.remaining <= 0 {
		s.phaseIndex = (s.phaseIndex + 1) % len(syntheticPhases)
		s.remaining = syntheticPhases[s.phaseIndex].duration
	}
	return nil
}

// TrafficLights reports the single synthetic junction.
func (s *Synthetic) TrafficLights(ctx context.Context) ([]TrafficLight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("synthetic engine: session closed")
	}
	states := make([]string, len(syntheticPhases))
	for i, ph := range syntheticPhases {
		states[i] = ph.state
	}
	return []TrafficLight{{
		ID:         "J1",
		Program:    "0",
		PhaseIndex: s.phaseIndex,
		PhaseState: syntheticPhases[s.phaseIndex].state,
		Phases:     states,
	}}, nil
}

// QueueLength reports the longest approach queue, rounded to whole
// vehicles.
func (s *Synthetic) QueueLength(ctx context.Context, tlsID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTLS(tlsID); err != nil {
		return 0, err
	}
	longest := math.Max(s.queues[0], s.queues[1])
	return int(math.Round(longest)), nil
}

// HoldPhase pins the current phase through the next step.
func (s *Synthetic) HoldPhase(ctx context.Context, tlsID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTLS(tlsID); err != nil {
		return err
	}
	// Two seconds on the clock survives the decrement in Step.
	if s.remaining < 2 {
		s.remaining = 2
	}
	return nil
}

// AdvancePhase moves to the next phase in the ring.
func (s *Synthetic) AdvancePhase(ctx context.Context, tlsID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTLS(tlsID); err != nil {
		return err
	}
	s.phaseIndex = (s.phaseIndex + 1) % len(syntheticPhases)
	s.remaining = syntheticPhases[s.phaseIndex].duration
	return nil
}

// NetworkStats reports a noisy bell-curve vehicle count and the linear
// congestion speed law: free flow at 15 m/s, falling toward jam speed
// as the count approaches the daily peak.
func (s *Synthetic) NetworkStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Stats{}, fmt.Errorf("synthetic engine: session closed")
	}

	count := s.demand(s.step) + s.rng.NormFloat64()*5
	if count < 0 {
		count = 0
	}
	n := int(count)

	speed := 15 - (float64(n)/s.p.PeakCars)*13
	speed += s.rng.NormFloat64()
	if speed < 1 {
		speed = 1
	}
	if speed > 20 {
		speed = 20
	}
	return Stats{VehicleCount: n, MeanSpeedMPS: speed}, nil
}

// ExpectedVehicles reports current demand plus everything still queued.
func (s *Synthetic) ExpectedVehicles(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("synthetic engine: session closed")
	}
	expected := s.demand(s.step) + s.queues[0] + s.queues[1]
	return int(math.Round(expected)), nil
}

// Close ends the session. Further calls fail.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Synthetic) checkTLS(tlsID string) error {
	if s.closed {
		return fmt.Errorf("synthetic engine: session closed")
	}
	if tlsID != "J1" {
		return fmt.Errorf("synthetic engine: unknown traffic light %q", tlsID)
	}
	return nil
}

var _ Engine = (*Synthetic)(nil)
