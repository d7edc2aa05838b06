package collector

import (
	"time"

	"gpucputest/internal/core"
)

// ComputeMetrics computes per-worker metrics from events. Pure function, no side effects.
func ComputeMetrics(events []core.Event, runDuration time.Duration) *Metrics {
	m := &Metrics{
		Duration: runDuration,
		Workers:  make(map[string]*WorkerMetrics),
	}

	runDurations := make(map[string][]time.Duration)
	stealWaits := make(map[string][]time.Duration)

	for _, e := range events {
		wm, ok := m.Workers[e.Worker]
		if !ok {
			wm = &WorkerMetrics{}
			m.Workers[e.Worker] = wm
		}

		switch e.Kind {
		case core.KindRun:
			wm.Runs++
			switch e.Path {
			case core.PathGPU:
				wm.GPURuns++
			case core.PathCPU:
				wm.CPURuns++
			case core.PathMixed:
				wm.MixedRuns++
			}
			if e.Preempted {
				wm.Preempted++
			}
			runDurations[e.Worker] = append(runDurations[e.Worker], e.Duration)
		case core.KindSteal:
			wm.Steals++
			wm.Polls += e.Polls
			stealWaits[e.Worker] = append(stealWaits[e.Worker], e.Duration)
		}
	}

	for name, wm := range m.Workers {
		wm.RunDuration = ComputeDurationMetrics(runDurations[name])
		wm.StealWait = ComputeDurationMetrics(stealWaits[name])
	}

	return m
}
