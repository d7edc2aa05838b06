package collector_test

import (
	"fmt"
	"time"

	"gpucputest/internal/collector"
	"gpucputest/internal/core"
)

func ExampleNewCollector() {
	// Create a collector and hand it to workers as their core.Reporter
	c := collector.NewCollector()

	c.Report(core.Event{Worker: "high", Kind: core.KindSteal, Duration: 100 * time.Millisecond, Polls: 1})
	c.Report(core.Event{Worker: "high", Kind: core.KindRun, Path: core.PathGPU, Duration: 48 * time.Millisecond})

	// Close when every worker has been joined
	c.Close()

	fmt.Printf("Collected %d events\n", len(c.Events()))
	// Output: Collected 2 events
}

func ExampleComputeMetrics() {
	events := []core.Event{
		{Worker: "low", Kind: core.KindRun, Path: core.PathGPU, Duration: 50 * time.Millisecond},
		{Worker: "low", Kind: core.KindRun, Path: core.PathMixed, Preempted: true, Duration: 120 * time.Millisecond},
		{Worker: "low", Kind: core.KindRun, Path: core.PathCPU, Duration: 200 * time.Millisecond},
		{Worker: "low", Kind: core.KindRun, Path: core.PathCPU, Duration: 200 * time.Millisecond},
	}

	m := collector.ComputeMetrics(events, time.Second)
	low := m.Workers["low"]

	fmt.Printf("Runs: %d, GPU: %d, CPU: %d, Preempted: %.0f%%\n",
		low.Runs, low.GPURuns, low.CPURuns, low.PreemptionRate())
	// Output: Runs: 4, GPU: 1, CPU: 2, Preempted: 25%
}
