package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/banshee-data/corridor.twin/internal/testutil"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestMuxFanout(t *testing.T) {
	m := NewMux()
	defer m.Close()

	idA, chA := m.Subscribe()
	idB, chB := m.Subscribe()
	defer m.Unsubscribe(idA)
	defer m.Unsubscribe(idB)

	rec := Record{Day: 1, Step: 42, VehicleCount: 7, AvgSpeedMPS: 11.5, MaxQueue: 2}
	m.Publish(rec)

	for name, ch := range map[string]chan Record{"A": chA, "B": chB} {
		select {
		case got := <-ch:
			if got != rec {
				t.Errorf("subscriber %s got %+v, want %+v", name, got, rec)
			}
		default:
			t.Errorf("subscriber %s received nothing", name)
		}
	}
}

func TestMuxUnsubscribeClosesChannel(t *testing.T) {
	m := NewMux()
	defer m.Close()

	id, ch := m.Subscribe()
	m.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	m.Publish(Record{Day: 1})
}

func TestMuxSlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMux()
	defer m.Close()

	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	// Publish well past the buffer size with nobody draining; Publish
	// must not block and the overflow is dropped.
	for i := 0; i < 100; i++ {
		m.Publish(Record{Step: i})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Errorf("received %d records, want between 1 and the buffer size", received)
	}
}

func TestMuxClose(t *testing.T) {
	m := NewMux()
	_, ch := m.Subscribe()
	m.Close()

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}

	// Publish after close is a silent no-op.
	m.Publish(Record{Day: 1})
}

func TestAttachAdminRoutes_LivePage(t *testing.T) {
	m := NewMux()
	defer m.Close()

	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodGet, "/debug/live", nil)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Live Telemetry") {
		t.Error("live page missing expected content")
	}
}

func TestAttachAdminRoutes_TailJS(t *testing.T) {
	m := NewMux()
	defer m.Close()

	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodGet, "/debug/tail.js", nil)
	w := testutil.NewTestRecorder()
	httpMux.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "javascript") {
		t.Errorf("Expected Content-Type to contain 'javascript', got: %s", ct)
	}
}

func TestAttachAdminRoutes_TailRejectsPost(t *testing.T) {
	m := NewMux()
	defer m.Close()

	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodPost, "/debug/tail", nil)
	w := testutil.NewTestRecorder()
	httpMux.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestAttachAdminRoutes_Inject(t *testing.T) {
	m := NewMux()
	defer m.Close()

	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	form := url.Values{
		"day":           {"2"},
		"step":          {"99"},
		"vehicle_count": {"33"},
		"avg_speed":     {"6.5"},
		"max_queue":     {"12"},
	}
	req := localHostRequest(http.MethodPost, "/debug/inject", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	select {
	case rec := <-ch:
		if rec.Day != 2 || rec.Step != 99 || rec.VehicleCount != 33 || rec.MaxQueue != 12 {
			t.Errorf("injected record = %+v", rec)
		}
	default:
		t.Error("injected record never reached subscriber")
	}
}

func TestAttachAdminRoutes_InjectBadInput(t *testing.T) {
	m := NewMux()
	defer m.Close()

	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	form := url.Values{"day": {"notanumber"}}
	req := localHostRequest(http.MethodPost, "/debug/inject", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := testutil.NewTestRecorder()
	httpMux.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}
