// Command train fits the congestion-prediction model from harvested
// telemetry. Records come from a recorded run in the database or from a
// harvest CSV; features are the lagged vehicle counts; the split is
// chronological so test days are genuinely unseen future.
//
// The default mode trains on multi-day data, holding out every day past
// the cutoff. The -audit mode reruns the single-day integrity check:
// train on the first 80% of one day, predict the evening from the
// morning, and plot the result.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/corridor.twin/internal/config"
	"github.com/banshee-data/corridor.twin/internal/congestion"
	"github.com/banshee-data/corridor.twin/internal/db"
	"github.com/banshee-data/corridor.twin/internal/features"
	"github.com/banshee-data/corridor.twin/internal/report"
	"github.com/banshee-data/corridor.twin/internal/telemetry"
)

var (
	dbFile     = flag.String("db", "corridor_twin.db", "Path to the SQLite database file (model rows land here)")
	csvFile    = flag.String("csv", "", "Train from a harvest CSV instead of a recorded run")
	runID      = flag.String("run", "", "Run ID to train from (default: newest run in the database)")
	configPath = flag.String("config", "", "Path to a JSON config file for lag/horizon defaults")
	horizon    = flag.Int("horizon", 0, "Prediction horizon in steps (overrides config)")
	lagShort   = flag.Int("lag-short", 0, "Short lag in steps (overrides config)")
	lagLong    = flag.Int("lag-long", 0, "Long lag in steps (overrides config)")
	trainDays  = flag.Int("train-days", 0, "Last training day; later days become the test set (overrides config)")
	outFile    = flag.String("out", "congestion_model.json", "Model artifact output path (empty skips the file)")
	noStore    = flag.Bool("no-store", false, "Skip writing the model row to the database")
	audit      = flag.Bool("audit", false, "Single-day audit: 80/20 chronological split plus prediction plot")
	auditDay   = flag.Int("audit-day", 0, "Day to audit (default: first day in the dataset)")
	auditPNG   = flag.String("audit-png", "prediction_audit.png", "Reality-vs-prediction plot path for -audit")
)

func loadConfig() *config.TwinConfig {
	if *configPath != "" {
		cfg, err := config.LoadTwinConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		return cfg
	}
	if cfg, err := config.LoadTwinConfig(config.DefaultConfigPath); err == nil {
		return cfg
	}
	return config.EmptyTwinConfig()
}

// loadRecords pulls the training telemetry from the CSV when given,
// otherwise from the requested (or newest) run in the database.
func loadRecords(database *db.DB) ([]telemetry.Record, string, error) {
	if *csvFile != "" {
		f, err := os.Open(*csvFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", *csvFile, err)
		}
		defer f.Close()

		records, err := telemetry.ReadCSV(f)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", *csvFile, err)
		}
		return records, *csvFile, nil
	}

	if database == nil {
		return nil, "", fmt.Errorf("no database open; pass -csv or -db")
	}

	id := *runID
	if id == "" {
		runs, err := database.ListRuns()
		if err != nil {
			return nil, "", fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			return nil, "", fmt.Errorf("database has no recorded runs; run a session or pass -csv")
		}
		id = runs[0].ID
	}

	records, err := database.TelemetryForRun(id)
	if err != nil {
		return nil, "", err
	}
	return records, "run " + id, nil
}

// auditSplit cuts one day's rows 80/20 in step order, the integrity
// check where the model has to guess the evening from the morning.
func auditSplit(set *features.Set, day int) (*features.Set, *features.Set, int, error) {
	if day == 0 {
		if len(set.Days) == 0 {
			return nil, nil, 0, fmt.Errorf("feature set is empty")
		}
		day = set.Days[0]
		for _, d := range set.Days {
			if d < day {
				day = d
			}
		}
	}

	single := &features.Set{Names: set.Names}
	for i := range set.Rows {
		if set.Days[i] != day {
			continue
		}
		single.Rows = append(single.Rows, set.Rows[i])
		single.Targets = append(single.Targets, set.Targets[i])
		single.Days = append(single.Days, set.Days[i])
	}
	if single.Len() == 0 {
		return nil, nil, 0, fmt.Errorf("no feature rows for day %d", day)
	}

	train, test, err := features.SplitFraction(single, 0.8)
	if err != nil {
		return nil, nil, 0, err
	}
	return train, test, day, nil
}

func main() {
	flag.Parse()

	cfg := loadConfig()
	h := cfg.GetHorizonSeconds()
	if *horizon > 0 {
		h = *horizon
	}
	ls := cfg.GetLagShortSeconds()
	if *lagShort > 0 {
		ls = *lagShort
	}
	ll := cfg.GetLagLongSeconds()
	if *lagLong > 0 {
		ll = *lagLong
	}
	cutoff := cfg.GetTrainDayCutoff()
	if *trainDays > 0 {
		cutoff = *trainDays
	}

	var database *db.DB
	if *dbFile != "" {
		var err error
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
	}

	records, source, err := loadRecords(database)
	if err != nil {
		log.Fatalf("Failed to load telemetry: %v", err)
	}

	days := map[int]bool{}
	for _, rec := range records {
		days[rec.Day] = true
	}
	log.Printf("Loaded %d data points (%d day(s)) from %s", len(records), len(days), source)

	set, err := features.Build(records, h, ls, ll)
	if err != nil {
		log.Fatalf("Failed to build features: %v", err)
	}

	var train, test *features.Set
	if *audit {
		var day int
		train, test, day, err = auditSplit(set, *auditDay)
		if err != nil {
			log.Fatalf("Failed to split audit day: %v", err)
		}
		log.Printf("Audit split on day %d: %d training rows, %d held-out rows (last 20%% of the day)",
			day, train.Len(), test.Len())
	} else {
		train, test = features.SplitByDay(set, cutoff)
		if train.Len() == 0 || test.Len() == 0 {
			log.Fatalf("Chronological split at day %d left %d training and %d test rows; adjust -train-days",
				cutoff, train.Len(), test.Len())
		}
		log.Printf("Training set: %d rows (days 1-%d)", train.Len(), cutoff)
		log.Printf("Testing set:  %d rows (later days)", test.Len())
	}

	model, err := congestion.Fit(train, h)
	if err != nil {
		log.Fatalf("Failed to fit model: %v", err)
	}

	metrics, err := congestion.Evaluate(model, test)
	if err != nil {
		log.Fatalf("Failed to evaluate model: %v", err)
	}

	log.Printf("-----------------------------------")
	log.Printf("Model performance on held-out data:")
	log.Printf("  R² score: %.4f", metrics.R2)
	log.Printf("  MSE:      %.2f", metrics.MSE)
	log.Printf("-----------------------------------")

	if *audit && *auditPNG != "" {
		predicted := make([]float64, test.Len())
		for i, row := range test.Rows {
			p, err := model.Predict(row)
			if err != nil {
				log.Fatalf("Failed to predict audit row %d: %v", i, err)
			}
			predicted[i] = p
		}
		if err := report.SaveAuditPNG(*auditPNG, test.Targets, predicted, metrics.R2); err != nil {
			log.Fatalf("Failed to save audit plot: %v", err)
		}
		log.Printf("Audit plot saved to %s", *auditPNG)
	}

	artifact := &congestion.Artifact{
		Model:     *model,
		Metrics:   metrics,
		TrainRows: train.Len(),
		TestRows:  test.Len(),
		TrainedAt: time.Now().UTC(),
	}

	if *outFile != "" {
		if err := artifact.Save(*outFile); err != nil {
			log.Fatalf("Failed to save model artifact: %v", err)
		}
		log.Printf("Model saved to %s", *outFile)
	}

	if database != nil && !*noStore {
		weights, err := json.Marshal(model)
		if err != nil {
			log.Fatalf("Failed to encode model weights: %v", err)
		}
		record := &db.ModelRecord{
			HorizonSteps: h,
			Features:     model.Features,
			Weights:      weights,
			R2:           metrics.R2,
			MSE:          metrics.MSE,
			TrainRows:    train.Len(),
			TestRows:     test.Len(),
		}
		if err := database.SaveModel(record); err != nil {
			log.Fatalf("Failed to store model: %v", err)
		}
		log.Printf("Model %s stored; /api/predict now serves it", record.ID)
	}
}
