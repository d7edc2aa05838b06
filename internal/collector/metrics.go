package collector

import (
	"sort"
	"time"
)

// Metrics contains aggregated run results.
type Metrics struct {
	Duration time.Duration             `json:"duration"`
	Workers  map[string]*WorkerMetrics `json:"workers"`
}

// WorkerMetrics summarises one worker's events.
type WorkerMetrics struct {
	Runs        int             `json:"runs"`
	GPURuns     int             `json:"gpuRuns"`
	CPURuns     int             `json:"cpuRuns"`
	MixedRuns   int             `json:"mixedRuns"`
	Preempted   int             `json:"preempted"`
	RunDuration DurationMetrics `json:"runDuration"`
	Steals      int             `json:"steals"`
	Polls       int             `json:"polls"`
	StealWait   DurationMetrics `json:"stealWait"`
}

// PreemptionRate is the percentage of runs that gave up the GPU midway.
func (w *WorkerMetrics) PreemptionRate() float64 {
	if w.Runs == 0 {
		return 0
	}
	return float64(w.Preempted) / float64(w.Runs) * 100
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// ComputePercentile calculates the percentile value from a sorted slice of durations.
// The percentile p should be between 0 and 1 (e.g., 0.95 for p95).
// The slice must be sorted in ascending order.
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	// nearest rank
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// ComputeDurationMetrics calculates all duration statistics from a slice of durations.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}
