package collector

import (
	"time"

	"gpucputest/internal/core"
	"gpucputest/internal/gpu"
)

// Report is everything printed at the end of a successful run.
type Report struct {
	RunID    string
	Duration time.Duration
	Device   gpu.Stats
	Workers  []WorkerReport
	Dropped  int64
}

// WorkerReport pairs a worker's RunInfo with the metrics computed from its events.
type WorkerReport struct {
	Info    core.RunInfo
	Metrics WorkerMetrics
}

// NewReport joins the RunInfos, in their order, with the computed metrics.
// A worker with no events gets zero metrics.
func NewReport(runID string, infos []core.RunInfo, m *Metrics, device gpu.Stats) *Report {
	r := &Report{
		RunID:   runID,
		Device:  device,
		Workers: make([]WorkerReport, 0, len(infos)),
	}
	if m != nil {
		r.Duration = m.Duration
	}
	for _, info := range infos {
		wr := WorkerReport{Info: info}
		if m != nil {
			if wm, ok := m.Workers[info.Name]; ok {
				wr.Metrics = *wm
			}
		}
		r.Workers = append(r.Workers, wr)
	}
	return r
}
