// Summary statistics over sparse per-turn latency samples
// Empty sample sets yield the zero Stats; nothing here divides by zero
package latency

import (
	"fmt"
	"math"
	"slices"
)

// Stats summarises one latency dimension across turns. Values are in seconds.
type Stats struct {
	Avg   float64 `json:"avg" yaml:"avg"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Count int     `json:"count" yaml:"count"`
	P50   float64 `json:"p50" yaml:"p50"`
	P75   float64 `json:"p75" yaml:"p75"`
}

// ComputeStats summarises samples. The input slice is not modified.
// Uses a float64 accumulator over the samples in input order.
func ComputeStats(samples []float64) Stats {
	n := len(samples)
	if n == 0 {
		return Stats{}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum float64
	for _, s := range samples {
		sum += s
	}

	return Stats{
		Avg:   sum / float64(n),
		Min:   sorted[0],
		Max:   sorted[n-1],
		Count: n,
		P50:   Percentile(sorted, 50),
		P75:   Percentile(sorted, 75),
	}
}

// Percentile returns the value at index ceil(p/100*n)-1 of an ascending
// slice, clamped to [0, n-1]. Returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(n)/100)) - 1
	idx = max(0, min(idx, n-1))
	return sorted[idx]
}

// FormatSeconds renders a latency for display: milliseconds below one second.
func FormatSeconds(s float64) string {
	if s < 1 {
		return fmt.Sprintf("%.0fms", s*1000)
	}
	return fmt.Sprintf("%.2fs", s)
}
