package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// localHostRequest builds a request that appears to come from localhost so
// tsweb.AllowDebugAccess lets it through.
func localHostRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_DebugIndex(t *testing.T) {
	db := newTestDB(t)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest("GET", "/debug/"))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /debug/, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "tailsql") {
		t.Error("Expected debug index to link the tailsql console")
	}
	if !strings.Contains(body, "backup") {
		t.Error("Expected debug index to link the backup endpoint")
	}
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	// VACUUM INTO writes the backup file into the working directory before
	// it is streamed out and removed again.
	t.Chdir(t.TempDir())

	db := newTestDB(t)
	seedRun(t, db)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest("GET", "/debug/backup"))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from backup, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Errorf("Expected gzip content encoding, got %q", rec.Header().Get("Content-Encoding"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Errorf("Expected attachment disposition, got %q", rec.Header().Get("Content-Disposition"))
	}

	gz, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("Failed to open gzip stream: %v", err)
	}
	payload, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Failed to decompress backup: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte("SQLite format 3")) {
		t.Error("Expected backup payload to be a SQLite database")
	}
}
