package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gpucputest/internal/gpu"
)

// FormatText writes the report in human-readable form.
func FormatText(w io.Writer, r *Report, thresholds *ThresholdResults) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "gpu-cpu-test - Run Results")
	fmt.Fprintln(w, "==========================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Run ID:   %s\n", r.RunID)
	fmt.Fprintf(w, "Duration: %v\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "GPU:      acquisitions=%d contended=%d yields=%d\n",
		r.Device.Acquisitions, r.Device.Contended, r.Device.Yields)
	if r.Dropped > 0 {
		fmt.Fprintf(w, "Dropped:  %d events\n", r.Dropped)
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Workers:")
	for _, wr := range r.Workers {
		m := wr.Metrics
		fmt.Fprintf(w, "  %-6s %s\n", wr.Info.Name, wr.Info)
		fmt.Fprintf(w, "         runs=%d gpu=%d cpu=%d mixed=%d preempted=%d  avg=%s  p95=%s  p99=%s\n",
			m.Runs, m.GPURuns, m.CPURuns, m.MixedRuns, m.Preempted,
			FormatDuration(m.RunDuration.Avg),
			FormatDuration(m.RunDuration.P95),
			FormatDuration(m.RunDuration.P99))
		if m.Steals > 0 {
			fmt.Fprintf(w, "         steals=%d polls=%d  wait avg=%s  p99=%s  max=%s\n",
				m.Steals, m.Polls,
				FormatDuration(m.StealWait.Avg),
				FormatDuration(m.StealWait.P99),
				FormatDuration(m.StealWait.Max))
		}
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s %s (actual: %s)\n",
				symbol, result.Name, result.Threshold, result.Actual)
		}
	}
}

// FormatJSON writes the report in JSON format.
func FormatJSON(w io.Writer, r *Report, thresholds *ThresholdResults) {
	output := struct {
		RunID      string            `json:"runId"`
		Duration   string            `json:"duration"`
		Device     gpu.Stats         `json:"gpu"`
		Dropped    int64             `json:"droppedEvents,omitempty"`
		Workers    []jsonWorker      `json:"workers"`
		Thresholds *ThresholdResults `json:"thresholds,omitempty"`
	}{
		RunID:      r.RunID,
		Duration:   r.Duration.Round(time.Millisecond).String(),
		Device:     r.Device,
		Dropped:    r.Dropped,
		Workers:    make([]jsonWorker, 0, len(r.Workers)),
		Thresholds: thresholds,
	}

	for _, wr := range r.Workers {
		m := wr.Metrics
		output.Workers = append(output.Workers, jsonWorker{
			Name:        wr.Info.Name,
			Elapsed:     wr.Info.Elapsed.Round(time.Millisecond).String(),
			Iterations:  wr.Info.Iterations,
			Reason:      string(wr.Info.Reason),
			Runs:        m.Runs,
			GPURuns:     m.GPURuns,
			CPURuns:     m.CPURuns,
			MixedRuns:   m.MixedRuns,
			Preempted:   m.Preempted,
			RunDuration: toJSONDurationMetrics(m.RunDuration),
			Steals:      m.Steals,
			Polls:       m.Polls,
			StealWait:   toJSONDurationMetrics(m.StealWait),
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output) // stdout errors are unrecoverable
}

type jsonWorker struct {
	Name        string              `json:"name"`
	Elapsed     string              `json:"elapsed"`
	Iterations  int                 `json:"iterations"`
	Reason      string              `json:"reason"`
	Runs        int                 `json:"runs"`
	GPURuns     int                 `json:"gpuRuns"`
	CPURuns     int                 `json:"cpuRuns"`
	MixedRuns   int                 `json:"mixedRuns"`
	Preempted   int                 `json:"preempted"`
	RunDuration jsonDurationMetrics `json:"runDuration"`
	Steals      int                 `json:"steals"`
	Polls       int                 `json:"polls"`
	StealWait   jsonDurationMetrics `json:"stealWait"`
}

type jsonDurationMetrics struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
