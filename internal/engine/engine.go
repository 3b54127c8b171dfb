// Package engine abstracts the traffic microsimulation behind a small
// command surface. The twin drives an Engine one step at a time and
// never sees simulator internals, so the same run loop works against a
// remote SUMO middleware or the in-process synthetic junction.
package engine

import "context"

// TrafficLight describes one signalled junction as reported by the
// engine. Phases carries the full state ring when the engine knows it;
// older middlewares omit it.
type TrafficLight struct {
	ID         string   `json:"id"`
	Program    string   `json:"program"`
	PhaseIndex int      `json:"phaseIndex"`
	PhaseState string   `json:"phaseState"`
	Phases     []string `json:"phases,omitempty"`
}

// Stats is the network-wide snapshot harvested once per step.
type Stats struct {
	VehicleCount int     `json:"vehicleCount"`
	MeanSpeedMPS float64 `json:"meanSpeed"`
}

// Engine is one simulation session. Step advances simulated time by one
// second; everything else reads or commands the current state. All
// methods are safe for use from a single driving goroutine.
type Engine interface {
	// Step advances the simulation by one second.
	Step(ctx context.Context) error

	// TrafficLights lists the signalled junctions in the network.
	TrafficLights(ctx context.Context) ([]TrafficLight, error)

	// QueueLength reports the longest halting queue on any approach to
	// the given junction, in vehicles.
	QueueLength(ctx context.Context, tlsID string) (int, error)

	// HoldPhase keeps the junction in its current phase through the
	// next step.
	HoldPhase(ctx context.Context, tlsID string) error

	// AdvancePhase moves the junction to the next phase in its program.
	AdvancePhase(ctx context.Context, tlsID string) error

	// NetworkStats reports the vehicle count and mean speed across the
	// whole network.
	NetworkStats(ctx context.Context) (Stats, error)

	// ExpectedVehicles reports how many vehicles are still in or due to
	// enter the network. A session is drained when this reaches zero.
	ExpectedVehicles(ctx context.Context) (int, error)

	// Close ends the session and releases the underlying simulator.
	Close() error
}
