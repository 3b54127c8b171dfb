// Command twin runs the corridor digital twin: it drives a traffic
// engine (a live SUMO bridge or the built-in synthetic corridor),
// applies adaptive signal control, harvests telemetry into SQLite, and
// serves the HTTP API and charts while the session runs.
//
// The migrate subcommand manages the database schema:
//
//	twin migrate up
//	twin -db corridor.db migrate status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	gosignal "os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/corridor.twin/internal/api"
	"github.com/banshee-data/corridor.twin/internal/config"
	"github.com/banshee-data/corridor.twin/internal/db"
	"github.com/banshee-data/corridor.twin/internal/engine"
	"github.com/banshee-data/corridor.twin/internal/signal"
	"github.com/banshee-data/corridor.twin/internal/telemetry"
	"github.com/banshee-data/corridor.twin/internal/timeutil"
	"github.com/banshee-data/corridor.twin/internal/twin"
	"github.com/banshee-data/corridor.twin/internal/units"
	"github.com/banshee-data/corridor.twin/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	devMode      = flag.Bool("dev", false, "Use the in-process synthetic engine instead of a live simulator")
	engineURL    = flag.String("engine-url", "", "WebSocket URL of the simulation middleware (overrides config)")
	dbFile       = flag.String("db", "corridor_twin.db", "Path to the SQLite database file")
	configPath   = flag.String("config", "", "Path to a JSON config file (default: "+config.DefaultConfigPath+" when present)")
	days         = flag.Int("days", 0, "Simulated days to harvest (overrides config)")
	stepsPerDay  = flag.Int("steps", 0, "Steps per simulated day (overrides config)")
	tlsID        = flag.String("tls", "", "Control a single junction by TLS id (default: every junction the engine reports)")
	realtime     = flag.Bool("realtime", false, "Pace steps to wall clock instead of free-running")
	seed         = flag.Int64("seed", 1, "Random seed for the synthetic engine")
	displayUnits = flag.String("units", units.KMPH, "Display units for speeds ("+units.GetValidUnitsString()+")")
	harvestOut   = flag.String("harvest-csv", "", "Also write the session's telemetry to this CSV file")
	notes        = flag.String("notes", "", "Free-form note recorded on the run")
	serveOnly    = flag.Bool("serve-only", false, "Serve the API over an existing database without running a session")
)

func loadConfig() *config.TwinConfig {
	if *configPath != "" {
		cfg, err := config.LoadTwinConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		log.Printf("Loaded config from %s", *configPath)
		return cfg
	}
	if cfg, err := config.LoadTwinConfig(config.DefaultConfigPath); err == nil {
		log.Printf("Loaded config from %s", config.DefaultConfigPath)
		return cfg
	}
	log.Print("No config file found; using built-in defaults")
	return config.EmptyTwinConfig()
}

// writeHarvestCSV dumps the in-memory session telemetry for offline
// training with `train -csv`.
func writeHarvestCSV(records []telemetry.Record) {
	f, err := os.Create(*harvestOut)
	if err != nil {
		log.Printf("Failed to create %s: %v", *harvestOut, err)
		return
	}
	defer f.Close()
	if err := telemetry.WriteCSV(f, records); err != nil {
		log.Printf("Failed to write harvest CSV: %v", err)
		return
	}
	log.Printf("Wrote %d telemetry rows to %s", len(records), *harvestOut)
}

func main() {
	flag.Parse()

	// Schema management runs and exits before any other wiring.
	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}
	if !units.IsValid(*displayUnits) {
		log.Fatalf("Invalid units %q (valid: %s)", *displayUnits, units.GetValidUnitsString())
	}

	log.Printf("corridor.twin %s starting", version.Version)

	cfg := loadConfig()

	runDays := cfg.GetDays()
	if *days > 0 {
		runDays = *days
	}
	runSteps := cfg.GetStepsPerDay()
	if *stepsPerDay > 0 {
		runSteps = *stepsPerDay
	}
	junction := cfg.GetTLSID()
	if *tlsID != "" {
		junction = *tlsID
	}

	ctrl, err := signal.NewController(cfg.SignalParams())
	if err != nil {
		log.Fatalf("Invalid signal parameters: %v", err)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ctx, stop := gosignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tmux := telemetry.NewMux()
	defer tmux.Close()

	// A signals source for the API only exists while a session runs.
	var signalSource api.SignalSource
	var runner *twin.Runner
	var run *db.Run
	engineName := db.EngineRemote

	if !*serveOnly {
		// -dev swaps the live simulator bridge for the synthetic
		// corridor, same control loop either side.
		var eng engine.Engine
		if *devMode {
			eng = engine.NewSynthetic(engine.SyntheticParams{Seed: *seed, DayLength: runSteps})
			engineName = db.EngineSynthetic
			log.Printf("Using synthetic engine (seed %d)", *seed)
		} else {
			wsURL := *engineURL
			if wsURL == "" {
				wsURL = cfg.GetEngineURL()
			}
			remote, err := engine.Dial(ctx, wsURL)
			if err != nil {
				log.Fatalf("Failed to reach simulation engine at %s: %v (use -dev for the synthetic engine)", wsURL, err)
			}
			eng = remote
			log.Printf("Connected to simulation engine at %s", wsURL)
		}
		defer eng.Close()

		run = &db.Run{
			Engine:      engineName,
			TLSID:       junction,
			Params:      ctrl.Params(),
			Days:        runDays,
			StepsPerDay: runSteps,
			Notes:       *notes,
		}
		if err := database.CreateRun(run); err != nil {
			log.Fatalf("Failed to create run record: %v", err)
		}
		log.Printf("Run %s: %d day(s) x %d steps on %s engine", run.ID, runDays, runSteps, engineName)

		pace := time.Duration(0)
		if *realtime || cfg.GetPaceRealtime() {
			pace = cfg.GetStepInterval()
		}
		// One telemetry record per simulated second, so the flush
		// interval maps directly to a row count.
		flushRows := int(cfg.GetFlushInterval() / time.Second)

		runner = twin.NewRunner(eng, ctrl, tmux, database, timeutil.RealClock{}, twin.SessionConfig{
			RunID:       run.ID,
			Days:        runDays,
			StepsPerDay: runSteps,
			TLSID:       junction,
			StepEvery:   pace,
			FlushEvery:  flushRows,
		})
		signalSource = runner
	}

	var wg sync.WaitGroup

	if runner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := runner.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Session error: %v", err)
			}
			log.Printf("Session %s finished: %d day(s), %d steps, %d records, %d queue holds, %d degraded steps, drained=%v",
				run.ID, stats.Days, stats.Steps, stats.Records, stats.QueueHolds, stats.DegradedSteps, stats.Drained)
			if err := database.FinishRun(run.ID); err != nil {
				log.Printf("Failed to close run record: %v", err)
			}
			if *harvestOut != "" {
				writeHarvestCSV(runner.Harvest())
			}
			log.Printf("API still serving on %s (Ctrl-C to exit)", *listen)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// Health check endpoint
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status": "ok", "service": "twin", "version": %q, "timestamp": "%s"}`,
				version.Version, time.Now().UTC().Format(time.RFC3339))
		})

		// Basic info endpoint
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/html")

			sessionStatus := "none (serve-only)"
			if runner != nil {
				sessionStatus = fmt.Sprintf("run %s (%d day(s) x %d steps, %s engine)", run.ID, runDays, runSteps, engineName)
			}

			fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head><title>Corridor Twin</title></head>
<body>
	<h1>Corridor Twin</h1>
	<p>Version %s</p>
	<p>Session: %s</p>
	<ul>
		<li><a href="/health">Health check</a></li>
		<li><a href="/api/runs">Recorded runs</a></li>
		<li><a href="/api/telemetry">Latest telemetry</a></li>
		<li><a href="/api/stats">Day summaries</a></li>
		<li><a href="/api/signals">Live signal states</a></li>
		<li><a href="/api/model">Trained model</a></li>
		<li><a href="/charts/run">Run dashboard</a></li>
		<li><a href="/charts/model">Demand curve</a></li>
		<li><a href="/debug/">Admin debug pages</a></li>
	</ul>
</body>
</html>`, version.Version, sessionStatus)
		})

		// Admin pages: database inspection and the live telemetry tail.
		database.AttachAdminRoutes(mux)
		tmux.AttachAdminRoutes(mux)

		apiServer := api.NewServer(database, ctrl, signalSource, cfg, *displayUnits)
		apiMux := apiServer.ServeMux()
		mux.Handle("/api/", apiMux)
		mux.Handle("/charts/", apiMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server close error: %v", err)
			}
		}
	}()

	wg.Wait()
	log.Println("Graceful shutdown complete")
}
