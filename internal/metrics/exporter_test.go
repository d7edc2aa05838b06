package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpucputest/internal/core"
)

func TestExporter_Report(t *testing.T) {
	reg := prom.NewRegistry()
	exp, err := NewExporter(reg, ExporterOptions{})
	require.NoError(t, err)

	exp.Report(core.Event{Worker: "high", Kind: core.KindSteal, Duration: 300 * time.Millisecond, Polls: 3})
	exp.Report(core.Event{Worker: "high", Kind: core.KindRun, Path: core.PathGPU, Duration: 48 * time.Millisecond})
	exp.Report(core.Event{Worker: "low", Kind: core.KindRun, Path: core.PathMixed, Preempted: true, Duration: 150 * time.Millisecond})
	exp.Report(core.Event{Worker: "low", Kind: core.KindRun, Path: core.PathCPU, Duration: 200 * time.Millisecond})

	assert.Equal(t, 1.0, testutil.ToFloat64(exp.runsTotal.WithLabelValues("high", "gpu")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.runsTotal.WithLabelValues("low", "mixed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.runsTotal.WithLabelValues("low", "cpu")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.preemptionsTotal.WithLabelValues("low")))

	// one series per worker label
	assert.Equal(t, 2, testutil.CollectAndCount(exp.durationSeconds))
	assert.Equal(t, 1, testutil.CollectAndCount(exp.stealWaitSeconds))
}

func TestExporter_MetricNames(t *testing.T) {
	reg := prom.NewRegistry()
	exp, err := NewExporter(reg, ExporterOptions{})
	require.NoError(t, err)
	exp.Report(core.Event{Worker: "high", Kind: core.KindRun, Path: core.PathGPU})
	exp.Report(core.Event{Worker: "low", Kind: core.KindRun, Path: core.PathMixed, Preempted: true})
	exp.Report(core.Event{Worker: "high", Kind: core.KindSteal})

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"gpu_cpu_test_workload_runs_total",
		"gpu_cpu_test_workload_preemptions_total",
		"gpu_cpu_test_workload_duration_seconds",
		"gpu_cpu_test_steal_wait_seconds",
	}, names)
}

func TestExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewExporter(reg, ExporterOptions{})
	require.NoError(t, err)
	second, err := NewExporter(reg, ExporterOptions{})
	require.NoError(t, err)

	first.Report(core.Event{Worker: "low", Kind: core.KindRun, Path: core.PathCPU})
	second.Report(core.Event{Worker: "low", Kind: core.KindRun, Path: core.PathCPU})

	assert.Equal(t, 2.0, testutil.ToFloat64(first.runsTotal.WithLabelValues("low", "cpu")))
}

func TestExporter_EmptyLabels(t *testing.T) {
	exp, err := NewExporter(prom.NewRegistry(), ExporterOptions{Namespace: "x"})
	require.NoError(t, err)
	exp.Report(core.Event{Kind: core.KindRun})
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.runsTotal.WithLabelValues("unknown", "unknown")))
}

func TestExporter_NilSafe(t *testing.T) {
	var exp *Exporter
	assert.NotPanics(t, func() { exp.Report(core.Event{Kind: core.KindRun}) })
}
