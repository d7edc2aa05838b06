package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pingcap/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gpucputest/internal/collector"
	"gpucputest/internal/config"
	"gpucputest/internal/core"
	"gpucputest/internal/gpu"
	"gpucputest/internal/logger"
	"gpucputest/internal/metrics"
	"gpucputest/internal/progress"
	"gpucputest/internal/supervisor"
	"gpucputest/internal/workload"
)

var errThresholds = errors.New("threshold check failed")

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	log, err := logger.New(logger.WithLevel(level), logger.WithConsole(stderr), logger.WithFilename(cfg.Log.File))
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	defer func() { _ = log.Sync() }()

	if cfg.Run.Parallel {
		log.Info("Running high and low priority proofs in parallel")
	} else {
		log.Info("Running high priority proofs only")
	}
	if cfg.Run.GPUStealing {
		log.Info("Force low priority proofs to CPU")
	} else {
		log.Info("Let everyone queue up to run on GPU")
	}

	coll := collector.NewCollector()
	reporters := core.MultiReporter{coll}

	if cfg.Metrics.Addr != "" {
		reg := prom.NewRegistry()
		exp, err := metrics.NewExporter(reg, metrics.ExporterOptions{})
		if err != nil {
			return &exitError{code: ExitError, err: errors.Annotate(err, "creating metrics exporter")}
		}
		reporters = append(reporters, exp)
		shutdown := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer shutdown()
	}

	device := gpu.NewDevice("gpu0")
	proof := workload.NewElectionPoSt(device, cfg.WorkloadOptions(),
		workload.WithReporter(reporters),
		workload.WithLogger(log.Named("election-post")),
	)
	sup := supervisor.New(cfg.SupervisorConfig(), device, proof, workload.Builder{Options: cfg.BuildOptions()},
		supervisor.WithLogger(log),
		supervisor.WithReporter(reporters),
	)

	prog := progress.NewProgress(sup, cfg.Output.Quiet)
	prog.SetOutput(stderr)
	prog.Printf("gpu-cpu-test starting: run %s, timeout %v", sup.RunID(), cfg.Run.Timeout)
	prog.Start()

	res, err := sup.Run(ctx)

	prog.Stop()
	coll.Close()

	if err != nil {
		log.Error("run failed", zap.Error(err))
		return &exitError{code: ExitFailure, err: err}
	}

	report := collector.NewReport(res.RunID, res.Workers, coll.Compute(), device.Stats())
	report.Duration = res.Duration
	report.Dropped = coll.Dropped()

	var thresholdResults *collector.ThresholdResults
	if cfg.Thresholds != nil {
		thresholdResults = cfg.Thresholds.Check(report)
	}

	if cfg.Output.Format == "json" {
		collector.FormatJSON(stdout, report, thresholdResults)
	} else {
		collector.FormatText(stdout, report, thresholdResults)
	}

	if ctx.Err() != nil {
		return nil
	}
	if thresholdResults != nil && !thresholdResults.Passed {
		return &exitError{code: ExitFailure, err: errThresholds}
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prom.Registry, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
