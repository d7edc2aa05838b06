// Package metrics exports worker events as Prometheus collectors.
package metrics

import (
	"github.com/pingcap/errors"
	prom "github.com/prometheus/client_golang/prometheus"

	"gpucputest/internal/core"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "gpu_cpu_test"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	Namespace       string
	DurationBuckets []float64
	StealBuckets    []float64
}

// Exporter turns core.Events into Prometheus samples. It implements core.Reporter.
type Exporter struct {
	runsTotal        *prom.CounterVec
	preemptionsTotal *prom.CounterVec
	durationSeconds  *prom.HistogramVec
	stealWaitSeconds *prom.HistogramVec
}

var _ core.Reporter = (*Exporter)(nil)

// NewExporter creates the collectors and registers them with reg, reusing any
// that are already registered.
func NewExporter(reg prom.Registerer, opts ExporterOptions) (*Exporter, error) {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	durationBuckets := opts.DurationBuckets
	if len(durationBuckets) == 0 {
		durationBuckets = prom.DefBuckets
	}
	stealBuckets := opts.StealBuckets
	if len(stealBuckets) == 0 {
		stealBuckets = prom.ExponentialBuckets(0.001, 4, 8)
	}

	runsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: opts.Namespace,
		Name:      "workload_runs_total",
		Help:      "Total number of workload invocations by execution path.",
	}, []string{"worker", "path"})
	preemptionsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: opts.Namespace,
		Name:      "workload_preemptions_total",
		Help:      "Total number of invocations that yielded the GPU to a priority claim.",
	}, []string{"worker"})
	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: opts.Namespace,
		Name:      "workload_duration_seconds",
		Help:      "Workload invocation duration in seconds.",
		Buckets:   durationBuckets,
	}, []string{"worker"})
	stealVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: opts.Namespace,
		Name:      "steal_wait_seconds",
		Help:      "Time spent waiting for the GPU before a steal succeeded.",
		Buckets:   stealBuckets,
	}, []string{"worker"})

	var err error
	if runsVec, err = registerCollector(reg, runsVec); err != nil {
		return nil, err
	}
	if preemptionsVec, err = registerCollector(reg, preemptionsVec); err != nil {
		return nil, err
	}
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if stealVec, err = registerCollector(reg, stealVec); err != nil {
		return nil, err
	}

	return &Exporter{
		runsTotal:        runsVec,
		preemptionsTotal: preemptionsVec,
		durationSeconds:  durationVec,
		stealWaitSeconds: stealVec,
	}, nil
}

// Report records one event.
func (e *Exporter) Report(ev core.Event) {
	if e == nil {
		return
	}
	worker := normalizeLabel(ev.Worker, "unknown")
	switch ev.Kind {
	case core.KindRun:
		e.runsTotal.WithLabelValues(worker, normalizeLabel(string(ev.Path), "unknown")).Inc()
		if ev.Preempted {
			e.preemptionsTotal.WithLabelValues(worker).Inc()
		}
		e.durationSeconds.WithLabelValues(worker).Observe(ev.Duration.Seconds())
	case core.KindSteal:
		e.stealWaitSeconds.WithLabelValues(worker).Observe(ev.Duration.Seconds())
	}
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	if are, ok := err.(prom.AlreadyRegisteredError); ok {
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return collector, errors.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, errors.Trace(err)
}
