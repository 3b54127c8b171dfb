package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/corridor.twin/internal/engine"
	"github.com/banshee-data/corridor.twin/internal/monitoring"
	"github.com/banshee-data/corridor.twin/internal/signal"
	"github.com/banshee-data/corridor.twin/internal/twin"
)

// Config shapes the sample runs behind every grid point.
type Config struct {
	// Steps is the session length of one sample run.
	Steps int

	// Iterations is how many sample runs each combination gets.
	// Iteration i uses seed Seed+i in every combination, so the same
	// traffic days are replayed across the whole grid.
	Iterations int

	// Seed is the base seed for the synthetic engine.
	Seed int64

	// FixedPhaseSeconds is held constant across the sweep; the grid
	// only varies the adaptive parameters.
	FixedPhaseSeconds int

	// Demand shape passed through to the synthetic engine. Zero
	// values take the engine defaults.
	PeakStep  float64
	PeakWidth float64
	PeakCars  float64
}

func (c Config) withDefaults() Config {
	if c.Steps == 0 {
		c.Steps = 3600
	}
	if c.Iterations == 0 {
		c.Iterations = 3
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.FixedPhaseSeconds == 0 {
		c.FixedPhaseSeconds = 3
	}
	return c
}

// SampleResult holds the metrics collected from a single sample run.
type SampleResult struct {
	MeanQueue    float64
	MaxQueue     int
	MeanSpeedMPS float64
	QueueHolds   int
	Steps        int
	Timestamp    time.Time
}

// ComboResult summarises the sample runs of one grid point.
type ComboResult struct {
	Combo
	Iterations int `json:"iterations"`

	MeanQueueMean   float64 `json:"mean_queue_mean"`
	MeanQueueStddev float64 `json:"mean_queue_stddev"`
	MaxQueueMean    float64 `json:"max_queue_mean"`
	MaxQueueStddev  float64 `json:"max_queue_stddev"`
	SpeedMean       float64 `json:"mean_speed_mps_mean"`
	SpeedStddev     float64 `json:"mean_speed_mps_stddev"`
	HoldsMean       float64 `json:"queue_holds_mean"`
	HoldsStddev     float64 `json:"queue_holds_stddev"`
}

// Sweeper walks a grid. The output writer may be nil when only the
// in-memory results are wanted.
type Sweeper struct {
	cfg Config
	out *CSVWriter
}

func New(cfg Config, out *CSVWriter) *Sweeper {
	return &Sweeper{cfg: cfg.withDefaults(), out: out}
}

// Run executes the sweep and returns one summary per feasible
// combination, in grid order.
func (s *Sweeper) Run(ctx context.Context, g Grid) ([]ComboResult, error) {
	combos, skipped := g.Combos()
	if skipped > 0 {
		monitoring.Logf("sweep: skipping %d infeasible combinations (max green < min green)", skipped)
	}
	if len(combos) == 0 {
		return nil, fmt.Errorf("grid has no feasible combinations")
	}

	if s.out != nil {
		s.out.WriteHeaders()
	}

	monitoring.Logf("sweep: %d combinations x %d iterations of %d steps",
		len(combos), s.cfg.Iterations, s.cfg.Steps)

	results := make([]ComboResult, 0, len(combos))
	for i, combo := range combos {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		samples := make([]SampleResult, 0, s.cfg.Iterations)
		for iter := 0; iter < s.cfg.Iterations; iter++ {
			sample, err := s.runSample(ctx, combo, s.cfg.Seed+int64(iter))
			if err != nil {
				return results, fmt.Errorf("combo %d/%d (min=%d max=%d threshold=%d) iteration %d: %w",
					i+1, len(combos), combo.MinGreen, combo.MaxGreen, combo.QueueThreshold, iter, err)
			}
			samples = append(samples, sample)
			if s.out != nil {
				s.out.WriteRawRow(combo, iter, sample)
			}
		}

		summary := Summarise(combo, samples)
		results = append(results, summary)
		if s.out != nil {
			s.out.WriteSummary(summary)
		}
		monitoring.Logf("sweep: [%d/%d] min=%d max=%d threshold=%d: queue=%.2f±%.2f speed=%.2f±%.2f holds=%.0f",
			i+1, len(combos), combo.MinGreen, combo.MaxGreen, combo.QueueThreshold,
			summary.MeanQueueMean, summary.MeanQueueStddev,
			summary.SpeedMean, summary.SpeedStddev, summary.HoldsMean)
	}

	if s.out != nil {
		s.out.Flush()
	}
	return results, nil
}

// runSample replays one synthetic session under the combination's
// timing parameters and reduces the harvest to a SampleResult.
func (s *Sweeper) runSample(ctx context.Context, combo Combo, seed int64) (SampleResult, error) {
	eng := engine.NewSynthetic(engine.SyntheticParams{
		Seed:      seed,
		PeakStep:  s.cfg.PeakStep,
		PeakWidth: s.cfg.PeakWidth,
		PeakCars:  s.cfg.PeakCars,
		DayLength: s.cfg.Steps,
	})

	ctrl, err := signal.NewController(signal.Params{
		MinGreenSeconds:   combo.MinGreen,
		MaxGreenSeconds:   combo.MaxGreen,
		QueueThreshold:    combo.QueueThreshold,
		FixedPhaseSeconds: s.cfg.FixedPhaseSeconds,
	})
	if err != nil {
		return SampleResult{}, fmt.Errorf("invalid timing parameters: %w", err)
	}

	runner := twin.NewRunner(eng, ctrl, nil, nil, nil, twin.SessionConfig{
		Days:        1,
		StepsPerDay: s.cfg.Steps,
	})
	stats, err := runner.Run(ctx)
	if err != nil {
		return SampleResult{}, err
	}

	records := runner.Harvest()
	result := SampleResult{
		QueueHolds: stats.QueueHolds,
		Steps:      stats.Steps,
		Timestamp:  time.Now(),
	}
	if len(records) == 0 {
		return result, nil
	}

	var queueSum, speedSum float64
	for _, rec := range records {
		queueSum += float64(rec.MaxQueue)
		speedSum += rec.AvgSpeedMPS
		if rec.MaxQueue > result.MaxQueue {
			result.MaxQueue = rec.MaxQueue
		}
	}
	result.MeanQueue = queueSum / float64(len(records))
	result.MeanSpeedMPS = speedSum / float64(len(records))
	return result, nil
}

// Summarise reduces a combination's sample runs to grid-order summary
// statistics.
func Summarise(combo Combo, samples []SampleResult) ComboResult {
	res := ComboResult{Combo: combo, Iterations: len(samples)}
	if len(samples) == 0 {
		return res
	}

	queues := make([]float64, len(samples))
	maxes := make([]float64, len(samples))
	speeds := make([]float64, len(samples))
	holds := make([]float64, len(samples))
	for i, sm := range samples {
		queues[i] = sm.MeanQueue
		maxes[i] = float64(sm.MaxQueue)
		speeds[i] = sm.MeanSpeedMPS
		holds[i] = float64(sm.QueueHolds)
	}

	res.MeanQueueMean, res.MeanQueueStddev = MeanStddev(queues)
	res.MaxQueueMean, res.MaxQueueStddev = MeanStddev(maxes)
	res.SpeedMean, res.SpeedStddev = MeanStddev(speeds)
	res.HoldsMean, res.HoldsStddev = MeanStddev(holds)
	return res
}
