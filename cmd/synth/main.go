// Command synth generates multi-day synthetic telemetry from the
// validated bell-curve day shape, for training without hours of live
// simulation. Output goes to a harvest CSV, the database as an import
// run, or both.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/corridor.twin/internal/db"
	"github.com/banshee-data/corridor.twin/internal/synth"
	"github.com/banshee-data/corridor.twin/internal/telemetry"
)

func main() {
	days := flag.Int("days", 30, "Number of days to generate")
	steps := flag.Int("steps", 3600, "Steps per day")
	seed := flag.Int64("seed", 42, "Random seed; the same seed reproduces the same dataset")
	csvOut := flag.String("csv", "synthetic_traffic_30days.csv", "Output CSV path (empty skips the file)")
	dbFile := flag.String("db", "", "Also import the dataset into this SQLite database as a run")
	notes := flag.String("notes", "", "Free-form note recorded on the imported run")
	flag.Parse()

	if *days < 1 || *steps < 1 {
		log.Fatalf("Need at least one day of one step, got %d day(s) of %d", *days, *steps)
	}
	if *csvOut == "" && *dbFile == "" {
		log.Fatal("Nothing to do: pass -csv and/or -db")
	}

	log.Printf("Generating %d day(s) of synthetic traffic (seed %d)...", *days, *seed)
	records := synth.GenerateDays(*seed, *days, *steps)

	if *csvOut != "" {
		f, err := os.Create(*csvOut)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *csvOut, err)
		}
		if err := telemetry.WriteCSV(f, records); err != nil {
			f.Close()
			log.Fatalf("Failed to write CSV: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Failed to close %s: %v", *csvOut, err)
		}
		log.Printf("Generated %d data points", len(records))
		log.Printf("Saved to %s", *csvOut)
	}

	if *dbFile != "" {
		database, err := db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()

		note := *notes
		if note == "" {
			note = fmt.Sprintf("synthetic dataset, seed %d", *seed)
		}
		run := &db.Run{
			Engine:      db.EngineImport,
			Days:        *days,
			StepsPerDay: *steps,
			Notes:       note,
		}
		if err := database.CreateRun(run); err != nil {
			log.Fatalf("Failed to create import run: %v", err)
		}
		if err := database.InsertTelemetryBatch(run.ID, records); err != nil {
			log.Fatalf("Failed to import telemetry: %v", err)
		}
		if err := database.FinishRun(run.ID); err != nil {
			log.Fatalf("Failed to close import run: %v", err)
		}
		log.Printf("Imported as run %s into %s", run.ID, *dbFile)
	}
}
