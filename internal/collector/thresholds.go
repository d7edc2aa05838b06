package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/errors"
)

// Thresholds defines pass/fail criteria applied to every worker in a report.
type Thresholds struct {
	MinIterations  int                 `yaml:"min_iterations"`
	RunDuration    *DurationThresholds `yaml:"run_duration"`
	StealWait      *DurationThresholds `yaml:"steal_wait"`
	PreemptionRate string              `yaml:"preemption_rate"`
}

// DurationThresholds defines latency limits.
type DurationThresholds struct {
	Avg time.Duration `yaml:"avg"`
	P50 time.Duration `yaml:"p50"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	P99 time.Duration `yaml:"p99"`
}

// ThresholdResult represents the outcome of a single threshold check.
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ThresholdResults contains all threshold check results.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Validate rejects thresholds that can never be evaluated.
func (t *Thresholds) Validate() error {
	if t == nil {
		return nil
	}
	if t.MinIterations < 0 {
		return errors.Errorf("thresholds: min_iterations must not be negative, got %d", t.MinIterations)
	}
	if t.PreemptionRate != "" {
		if _, err := parsePercentage(t.PreemptionRate); err != nil {
			return errors.Annotate(err, "thresholds: preemption_rate")
		}
	}
	return nil
}

// Check evaluates all thresholds against every worker in r.
func (t *Thresholds) Check(r *Report) *ThresholdResults {
	if t == nil {
		return &ThresholdResults{Passed: true, Results: nil}
	}

	results := &ThresholdResults{
		Passed:  true,
		Results: make([]ThresholdResult, 0),
	}

	for _, w := range r.Workers {
		name := w.Info.Name
		if t.MinIterations > 0 {
			results.add(ThresholdResult{
				Name:      name + ".iterations",
				Passed:    w.Info.Iterations >= t.MinIterations,
				Threshold: fmt.Sprintf(">= %d", t.MinIterations),
				Actual:    strconv.Itoa(w.Info.Iterations),
			})
		}
		if t.RunDuration != nil {
			results.checkDurationThresholds(name+".run_duration", t.RunDuration, &w.Metrics.RunDuration)
		}
		if t.StealWait != nil && w.Metrics.Steals > 0 {
			results.checkDurationThresholds(name+".steal_wait", t.StealWait, &w.Metrics.StealWait)
		}
		if t.PreemptionRate != "" {
			results.checkPreemptionRate(name, t.PreemptionRate, &w.Metrics)
		}
	}

	return results
}

func (r *ThresholdResults) add(result ThresholdResult) {
	if !result.Passed {
		r.Passed = false
	}
	r.Results = append(r.Results, result)
}

func (r *ThresholdResults) checkDurationThresholds(prefix string, thresholds *DurationThresholds, actual *DurationMetrics) {
	checks := []struct {
		name      string
		threshold time.Duration
		actual    time.Duration
	}{
		{prefix + ".avg", thresholds.Avg, actual.Avg},
		{prefix + ".p50", thresholds.P50, actual.P50},
		{prefix + ".p90", thresholds.P90, actual.P90},
		{prefix + ".p95", thresholds.P95, actual.P95},
		{prefix + ".p99", thresholds.P99, actual.P99},
	}

	for _, check := range checks {
		if check.threshold == 0 {
			continue
		}
		r.add(ThresholdResult{
			Name:      check.name,
			Passed:    check.actual < check.threshold,
			Threshold: "< " + FormatDuration(check.threshold),
			Actual:    FormatDuration(check.actual),
		})
	}
}

func (r *ThresholdResults) checkPreemptionRate(worker, rate string, m *WorkerMetrics) {
	limit, err := parsePercentage(rate)
	if err != nil {
		return
	}
	actual := m.PreemptionRate()
	r.add(ThresholdResult{
		Name:      worker + ".preemption_rate",
		Passed:    actual <= limit,
		Threshold: "<= " + rate,
		Actual:    fmt.Sprintf("%.2f%%", actual),
	})
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, errors.Errorf("invalid percentage format: %s", s)
	}
	return strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
}

// Violations returns only the failed threshold results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	violations := make([]ThresholdResult, 0)
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}
