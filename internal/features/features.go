// Package features turns raw per-step telemetry into the lagged feature
// matrix the congestion model trains on. Lag and lead columns are computed
// within each simulated day only, so the last steps of one day never leak
// into the first steps of the next.
package features

import (
	"fmt"
	"sort"

	"github.com/banshee-data/corridor.twin/internal/telemetry"
)

// Set is a feature matrix with aligned targets. Rows are in chronological
// order; Days records the source day of each row so chronological splits
// can cut on day boundaries.
type Set struct {
	Names   []string
	Rows    [][]float64
	Targets []float64
	Days    []int
}

// Len returns the number of rows in the set.
func (s *Set) Len() int {
	return len(s.Rows)
}

// FeatureIndex returns the column index of the named feature, or -1.
func (s *Set) FeatureIndex(name string) int {
	for i, n := range s.Names {
		if n == name {
			return i
		}
	}
	return -1
}

func lagName(steps int) string {
	if steps%60 == 0 {
		return fmt.Sprintf("lag_%dmin", steps/60)
	}
	return fmt.Sprintf("lag_%dstep", steps)
}

// Build computes the feature matrix from telemetry records. Each usable row
// carries the current step, vehicle count and mean speed plus the vehicle
// counts lagShort and lagLong steps earlier in the same day; its target is
// the vehicle count horizon steps later in the same day. Rows whose lags or
// target would cross a day boundary are dropped, exactly like the original
// per-day shift-and-dropna pipeline.
func Build(records []telemetry.Record, horizon, lagShort, lagLong int) (*Set, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	if lagShort <= 0 || lagLong <= 0 {
		return nil, fmt.Errorf("lags must be positive, got %d and %d", lagShort, lagLong)
	}

	// Group by day, keeping days in first-seen order and steps sorted
	// within each day.
	var dayOrder []int
	byDay := map[int][]telemetry.Record{}
	for _, rec := range records {
		if _, seen := byDay[rec.Day]; !seen {
			dayOrder = append(dayOrder, rec.Day)
		}
		byDay[rec.Day] = append(byDay[rec.Day], rec)
	}
	sort.Ints(dayOrder)

	maxLag := lagShort
	if lagLong > maxLag {
		maxLag = lagLong
	}

	set := &Set{
		Names: []string{"step", "vehicle_count", "avg_speed", lagName(lagShort), lagName(lagLong)},
	}

	for _, day := range dayOrder {
		recs := byDay[day]
		sort.Slice(recs, func(i, j int) bool { return recs[i].Step < recs[j].Step })

		for i := maxLag; i+horizon < len(recs); i++ {
			r := recs[i]
			set.Rows = append(set.Rows, []float64{
				float64(r.Step),
				float64(r.VehicleCount),
				r.AvgSpeedMPS,
				float64(recs[i-lagShort].VehicleCount),
				float64(recs[i-lagLong].VehicleCount),
			})
			set.Targets = append(set.Targets, float64(recs[i+horizon].VehicleCount))
			set.Days = append(set.Days, day)
		}
	}

	if set.Len() == 0 {
		return nil, fmt.Errorf("no usable rows: need more than %d steps per day for lag %d and horizon %d", maxLag+horizon, maxLag, horizon)
	}

	return set, nil
}

// SplitByDay cuts the set chronologically: rows from days up to and
// including lastTrainDay form the training set, later days the test set.
// No shuffling; the test days are genuinely unseen future.
func SplitByDay(set *Set, lastTrainDay int) (train, test *Set) {
	train = &Set{Names: set.Names}
	test = &Set{Names: set.Names}

	for i := range set.Rows {
		dst := test
		if set.Days[i] <= lastTrainDay {
			dst = train
		}
		dst.Rows = append(dst.Rows, set.Rows[i])
		dst.Targets = append(dst.Targets, set.Targets[i])
		dst.Days = append(dst.Days, set.Days[i])
	}

	return train, test
}

// SplitFraction cuts the set chronologically at the given fraction: the
// first frac of rows train, the remainder tests. Used by single-day audits
// where the model must guess the evening from the morning.
func SplitFraction(set *Set, frac float64) (train, test *Set, err error) {
	if frac <= 0 || frac >= 1 {
		return nil, nil, fmt.Errorf("split fraction must be in (0,1), got %g", frac)
	}

	cutoff := int(float64(set.Len()) * frac)
	train = &Set{
		Names:   set.Names,
		Rows:    set.Rows[:cutoff],
		Targets: set.Targets[:cutoff],
		Days:    set.Days[:cutoff],
	}
	test = &Set{
		Names:   set.Names,
		Rows:    set.Rows[cutoff:],
		Targets: set.Targets[cutoff:],
		Days:    set.Days[cutoff:],
	}

	return train, test, nil
}
