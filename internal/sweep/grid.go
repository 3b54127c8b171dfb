// Package sweep grid-searches signal timing parameters. Each
// combination of min green, max green, and queue threshold is replayed
// against the same deterministic synthetic traffic days so results are
// comparable across the grid, and the per-combination metrics land in
// raw and summary CSV files.
package sweep

import (
	"fmt"
	"strconv"
	"strings"
)

// IntRangeSpec defines an integer parameter range for sweeping.
type IntRangeSpec struct {
	Min  int
	Max  int
	Step int
}

// ParseIntRangeSpec parses a "min:max:step" string into an IntRangeSpec.
func ParseIntRangeSpec(s string) (IntRangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return IntRangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}

	max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}

	step, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}

	if step <= 0 {
		return IntRangeSpec{}, fmt.Errorf("step must be positive, got %d", step)
	}

	return IntRangeSpec{Min: min, Max: max, Step: step}, nil
}

// GenerateIntRange generates values from min to max (inclusive)
// stepping by step. Returns nil if min > max. The value count is
// capped to keep a mistyped spec from allocating the world.
func GenerateIntRange(min, max, step int) []int {
	if step <= 0 {
		return nil
	}
	if min > max {
		return nil
	}

	const maxValues = 10000
	expectedCount := (max-min)/step + 1
	if expectedCount > maxValues || expectedCount < 0 {
		return nil
	}

	var result []int
	for v := min; v <= max; v += step {
		result = append(result, v)
	}
	return result
}

// ParseIntParamList parses either a "min:max:step" range spec or a
// comma-separated list of integers.
func ParseIntParamList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}

	if strings.Contains(s, ":") {
		spec, err := ParseIntRangeSpec(s)
		if err != nil {
			return nil, err
		}
		return GenerateIntRange(spec.Min, spec.Max, spec.Step), nil
	}

	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Combo is one point of the timing grid.
type Combo struct {
	MinGreen       int `json:"min_green_s"`
	MaxGreen       int `json:"max_green_s"`
	QueueThreshold int `json:"queue_threshold"`
}

// Grid holds the swept values per dimension.
type Grid struct {
	MinGreen       []int
	MaxGreen       []int
	QueueThreshold []int
}

// ParseGrid builds a grid from three spec strings, each either a
// "min:max:step" range or a comma-separated list.
func ParseGrid(minGreen, maxGreen, queueThreshold string) (Grid, error) {
	var g Grid
	var err error

	if g.MinGreen, err = ParseIntParamList(minGreen); err != nil {
		return Grid{}, fmt.Errorf("min green spec: %w", err)
	}
	if g.MaxGreen, err = ParseIntParamList(maxGreen); err != nil {
		return Grid{}, fmt.Errorf("max green spec: %w", err)
	}
	if g.QueueThreshold, err = ParseIntParamList(queueThreshold); err != nil {
		return Grid{}, fmt.Errorf("queue threshold spec: %w", err)
	}

	if len(g.MinGreen) == 0 || len(g.MaxGreen) == 0 || len(g.QueueThreshold) == 0 {
		return Grid{}, fmt.Errorf("every grid dimension needs at least one value")
	}
	return g, nil
}

// Combos expands the cartesian product, dropping combinations where
// max green falls below min green. The skipped count lets callers log
// how much of the nominal grid was infeasible.
func (g Grid) Combos() (combos []Combo, skipped int) {
	for _, min := range g.MinGreen {
		for _, max := range g.MaxGreen {
			for _, threshold := range g.QueueThreshold {
				if max < min {
					skipped++
					continue
				}
				combos = append(combos, Combo{MinGreen: min, MaxGreen: max, QueueThreshold: threshold})
			}
		}
	}
	return combos, skipped
}
