package telemetry

import (
	"bytes"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"sync"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var livePageTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/live.html.tmpl"))

// Mux fans harvested records out to multiple subscribers: the database
// writer, live SSE tails, and anything else that wants a feed. One
// publisher, many consumers.
type Mux struct {
	subscribers  map[string]chan Record
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// NewMux creates an empty telemetry multiplexer.
func NewMux() *Mux {
	return &Mux{
		subscribers: make(map[string]chan Record),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving records. The channel ID
// identifies the subscription when unsubscribing. The channel carries a
// small buffer so a briefly busy consumer does not lose records; a
// consumer that stays behind has records dropped rather than stalling
// the run loop.
func (m *Mux) Subscribe() (string, chan Record) {
	id := randomID()
	ch := make(chan Record, 16)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Mux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Publish fans a record out to all subscribers without blocking.
func (m *Mux) Publish(rec Record) {
	m.closingMu.Lock()
	if m.closing {
		m.closingMu.Unlock()
		return
	}
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- rec:
		default:
			// full subscriber, skip so as not to block the run loop
		}
	}
}

// Close closes all subscriber channels. Publishing after Close is a
// no-op.
func (m *Mux) Close() {
	m.closingMu.Lock()
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

// AttachAdminRoutes attaches admin debugging endpoints to the given
// HTTP mux served at /debug/. These routes are accessible only over
// localhost/via Tailscale and are not publicly accessible.
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Live harvest viewer backed by the tail SSE endpoint below.
	debug.HandleFunc("live", "live telemetry tail and record injector", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := livePageTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to push a hand-built record through the mux, for
	// exercising downstream consumers without a running engine.
	debug.HandleSilentFunc("inject", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rec, err := recordFromForm(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.Publish(rec)
		io.WriteString(w, fmt.Sprintf("Injected record day=%d step=%d", rec.Day, rec.Step))
	})

	// API endpoint to issue Server-Side Events (SSE) carrying each
	// published record as a JSON object.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case rec, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				payload, err := json.Marshal(rec)
				if err != nil {
					continue
				}
				_, err = w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// serve tail.js from adminTemplateFS
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}

func recordFromForm(r *http.Request) (Record, error) {
	intField := func(name string) (int, error) {
		v := r.FormValue(name)
		if v == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("bad %s: %q", name, v)
		}
		return n, nil
	}

	var rec Record
	var err error
	if rec.Day, err = intField("day"); err != nil {
		return Record{}, err
	}
	if rec.Step, err = intField("step"); err != nil {
		return Record{}, err
	}
	if rec.VehicleCount, err = intField("vehicle_count"); err != nil {
		return Record{}, err
	}
	if rec.MaxQueue, err = intField("max_queue"); err != nil {
		return Record{}, err
	}
	if v := r.FormValue("avg_speed"); v != "" {
		if rec.AvgSpeedMPS, err = strconv.ParseFloat(v, 64); err != nil {
			return Record{}, fmt.Errorf("bad avg_speed: %q", v)
		}
	}
	return rec, nil
}
