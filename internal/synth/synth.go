// Package synth generates multi-day telemetry datasets from the
// bell-curve day shape validated against harvested runs. Training needs
// distinct days, and replaying the full simulation for each would take
// hours; this reproduces the day shape directly.
package synth

import (
	"math"
	"math/rand"

	"github.com/banshee-data/corridor.twin/internal/telemetry"
)

// DayParams is the shape of one generated day.
type DayParams struct {
	Day      int
	PeakStep int
	Width    int
	PeakCars int
}

// RandomDayParams draws a day shape around the observed pattern: demand
// peaks near step 1800 at 150-210 vehicles, with the peak drifting by
// up to five minutes day to day.
func RandomDayParams(rng *rand.Rand, day int) DayParams {
	return DayParams{
		Day:      day,
		PeakStep: 1800 + rng.Intn(600) - 300,
		Width:    600 + rng.Intn(100) - 50,
		PeakCars: 180 + rng.Intn(60) - 30,
	}
}

// Generate produces one day of records: a Gaussian count curve with
// sensor noise, and speeds from the linear congestion law (free flow
// 15 m/s, jam 2 m/s) with per-driver variation. Counts never go
// negative and speeds stay inside [1,20] m/s. Generated days carry no
// queue column; queues are only observed on live engine runs.
func Generate(rng *rand.Rand, p DayParams, stepsPerDay int) []telemetry.Record {
	records := make([]telemetry.Record, 0, stepsPerDay)
	width := float64(p.Width)
	peakCars := float64(p.PeakCars)

	for step := 0; step < stepsPerDay; step++ {
		d := float64(step - p.PeakStep)
		count := peakCars*math.Exp(-(d*d)/(2*width*width)) + rng.NormFloat64()*5
		if count < 0 {
			count = 0
		}
		n := int(count)

		speed := 15 - (float64(n)/peakCars)*13 + rng.NormFloat64()
		if speed < 1 {
			speed = 1
		}
		if speed > 20 {
			speed = 20
		}

		records = append(records, telemetry.Record{
			Day:          p.Day,
			Step:         step,
			VehicleCount: n,
			AvgSpeedMPS:  math.Round(speed*100) / 100,
		})
	}
	return records
}

// GenerateDays produces days 1..days with per-day randomized shapes.
// The same seed reproduces the same dataset.
func GenerateDays(seed int64, days, stepsPerDay int) []telemetry.Record {
	rng := rand.New(rand.NewSource(seed))
	records := make([]telemetry.Record, 0, days*stepsPerDay)
	for day := 1; day <= days; day++ {
		p := RandomDayParams(rng, day)
		records = append(records, Generate(rng, p, stepsPerDay)...)
	}
	return records
}
