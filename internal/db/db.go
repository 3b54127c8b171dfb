// Package db stores corridor runs, per-step telemetry, signal
// interventions and trained congestion models in SQLite. The schema is
// managed by golang-migrate from the embedded migrations directory.
package db

import (
	"compress/gzip"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode, when true, loads migrations from the source tree instead of the
// embedded copy. Useful while a new migration is still being edited.
var DevMode = false

// getMigrationsFS returns the filesystem migration files are read from.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/db/migrations"), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}

type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the database at path without touching the schema. Used by the
// migrate subcommands, where golang-migrate manages the schema itself.
func OpenDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite locks the whole file on write; a single pooled connection keeps
	// the harvest loop and API readers from tripping over SQLITE_BUSY, and
	// makes the session pragmas below stick.
	sqldb.SetMaxOpenConns(1)

	if err := applyPragmas(sqldb); err != nil {
		sqldb.Close()
		return nil, err
	}

	return &DB{DB: sqldb, path: path}, nil
}

// NewDB opens the database at path and brings the schema up to date by
// applying any pending embedded migrations.
func NewDB(path string) (*DB, error) {
	return NewDBWithMigrationCheck(path, true)
}

// NewDBWithMigrationCheck opens the database at path. When runMigrations is
// true any pending migrations are applied; otherwise the schema is left as
// found.
func NewDBWithMigrationCheck(path string, runMigrations bool) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if runMigrations {
		fsys, err := getMigrationsFS()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to get migrations filesystem: %w", err)
		}
		if err := db.MigrateUp(fsys); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
		}
	}

	return db, nil
}

// Path returns the filesystem path the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func applyPragmas(sqldb *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := sqldb.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://corridor.db", db.DB, &tailsql.DBOptions{
		Label: "Corridor DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
