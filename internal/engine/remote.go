package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/corridor.twin/internal/monitoring"
)

// Remote drives a SUMO instance through a websocket middleware. Each
// request is a small JSON object naming an endpoint; the middleware
// answers with one JSON object per request, in order. The connection
// carries exactly one request at a time, guarded by mu.
type Remote struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	closed bool
}

// Dial connects to the middleware at url, retrying every second until
// the connection succeeds or ctx is cancelled. The middleware is often
// still starting SUMO when the twin comes up, so failing fast here
// would just push the retry loop onto every caller.
func Dial(ctx context.Context, url string) (*Remote, error) {
	var conn *websocket.Conn
	var err error
	for {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			break
		}
		monitoring.Logf("engine: connect to %s failed: %v, retrying in 1s...", url, err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to engine %s: %w", url, ctx.Err())
		case <-time.After(time.Second):
		}
	}
	monitoring.Logf("engine: connected to %s", url)
	return &Remote{conn: conn, url: url}, nil
}

// errorCarrier lets call surface middleware-side failures uniformly.
type errorCarrier interface {
	errMsg() string
}

// callError is embedded in every response type so the middleware can
// report failures in-band.
type callError struct {
	Error string `json:"error,omitempty"`
}

func (e callError) errMsg() string { return e.Error }

type ackResponse struct {
	callError
	OK bool `json:"ok"`
}

type tlsResponse struct {
	callError
	TrafficLights []TrafficLight `json:"trafficLights"`
}

type queueResponse struct {
	callError
	Queue int `json:"queue"`
}

type statsResponse struct {
	callError
	VehicleCount int     `json:"vehicleCount"`
	MeanSpeed    float64 `json:"meanSpeed"`
}

type expectedResponse struct {
	callError
	Expected int `json:"expected"`
}

func (r *Remote) call(ctx context.Context, req map[string]string, resp errorCarrier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("engine %s: connection closed", r.url)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The websocket has no per-call context, so map the deadline onto
	// the connection. A zero time clears any previous deadline.
	deadline, _ := ctx.Deadline()
	r.conn.SetWriteDeadline(deadline)
	r.conn.SetReadDeadline(deadline)

	if err := r.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s request: %w", req["endpoint"], err)
	}
	if err := r.conn.ReadJSON(resp); err != nil {
		return fmt.Errorf("read %s response: %w", req["endpoint"], err)
	}
	if msg := resp.errMsg(); msg != "" {
		return fmt.Errorf("engine %s: %s", req["endpoint"], msg)
	}
	return nil
}

// Step advances the simulation by one second.
func (r *Remote) Step(ctx context.Context) error {
	var resp ackResponse
	return r.call(ctx, map[string]string{"endpoint": "step"}, &resp)
}

// TrafficLights lists the signalled junctions in the network.
func (r *Remote) TrafficLights(ctx context.Context) ([]TrafficLight, error) {
	var resp tlsResponse
	if err := r.call(ctx, map[string]string{"endpoint": "trafficlights"}, &resp); err != nil {
		return nil, err
	}
	return resp.TrafficLights, nil
}

// QueueLength reports the longest halting queue at the junction.
func (r *Remote) QueueLength(ctx context.Context, tlsID string) (int, error) {
	var resp queueResponse
	req := map[string]string{"endpoint": "queue", "tls": tlsID}
	if err := r.call(ctx, req, &resp); err != nil {
		return 0, err
	}
	return resp.Queue, nil
}

// HoldPhase keeps the junction in its current phase through the next step.
func (r *Remote) HoldPhase(ctx context.Context, tlsID string) error {
	var resp ackResponse
	return r.call(ctx, map[string]string{"endpoint": "hold", "tls": tlsID}, &resp)
}

// AdvancePhase moves the junction to the next phase in its program.
func (r *Remote) AdvancePhase(ctx context.Context, tlsID string) error {
	var resp ackResponse
	return r.call(ctx, map[string]string{"endpoint": "advance", "tls": tlsID}, &resp)
}

// NetworkStats reports the vehicle count and mean speed network-wide.
func (r *Remote) NetworkStats(ctx context.Context) (Stats, error) {
	var resp statsResponse
	if err := r.call(ctx, map[string]string{"endpoint": "stats"}, &resp); err != nil {
		return Stats{}, err
	}
	return Stats{VehicleCount: resp.VehicleCount, MeanSpeedMPS: resp.MeanSpeed}, nil
}

// ExpectedVehicles reports vehicles still in or due to enter the network.
func (r *Remote) ExpectedVehicles(ctx context.Context) (int, error) {
	var resp expectedResponse
	if err := r.call(ctx, map[string]string{"endpoint": "expected"}, &resp); err != nil {
		return 0, err
	}
	return resp.Expected, nil
}

// Close sends a best-effort stop to the middleware and drops the
// connection.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := r.conn.WriteJSON(map[string]string{"endpoint": "stop"}); err != nil {
		monitoring.Logf("engine: stop request failed: %v", err)
	}
	return r.conn.Close()
}

var _ Engine = (*Remote)(nil)
