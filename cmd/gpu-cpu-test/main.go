// Command gpu-cpu-test runs high and low priority election proofs against a
// shared GPU and reports how often each worker got through.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gpucputest/internal/config"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitError   = 2
)

// exitError carries the process exit code out of RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

type options struct {
	configPath    string
	parallel      bool
	gpuStealing   bool
	timeout       time.Duration
	pollInterval  time.Duration
	maxIterations int
	output        string
	quiet         bool
	metricsAddr   string
	logFile       string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "gpu-cpu-test",
		Short: "Exercise GPU priority stealing between high and low priority proofs",
		Long: `Runs a high priority worker that may steal the GPU and, optionally, a low
priority worker that falls back to the CPU when preempted. After the timeout
both workers are stopped and their run info is reported.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	f.BoolVar(&opts.parallel, "parallel", defaults.Run.Parallel, "run high and low priority proofs in parallel")
	f.BoolVar(&opts.gpuStealing, "gpu-stealing", defaults.Run.GPUStealing, "let the high priority worker steal the GPU")
	f.DurationVarP(&opts.timeout, "timeout", "t", defaults.Run.Timeout, "how long the workers run before they are stopped")
	f.DurationVar(&opts.pollInterval, "poll-interval", defaults.Run.PollInterval, "sleep between GPU availability checks while stealing")
	f.IntVar(&opts.maxIterations, "max-iterations", defaults.Run.MaxIterations, "iteration ceiling per worker")
	f.StringVarP(&opts.output, "output", "o", defaults.Output.Format, "output format: text, json")
	f.BoolVarP(&opts.quiet, "quiet", "q", defaults.Output.Quiet, "suppress progress output during the run")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&opts.logFile, "log-file", "", "also write JSON logs to this file, rotated")

	return cmd
}

// resolveConfig applies only the flags the user set on top of the file and
// environment.
func resolveConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("parallel") {
		cfg.Run.Parallel = opts.parallel
	}
	if f.Changed("gpu-stealing") {
		cfg.Run.GPUStealing = opts.gpuStealing
	}
	if f.Changed("timeout") {
		cfg.Run.Timeout = opts.timeout
	}
	if f.Changed("poll-interval") {
		cfg.Run.PollInterval = opts.pollInterval
	}
	if f.Changed("max-iterations") {
		cfg.Run.MaxIterations = opts.maxIterations
	}
	if f.Changed("output") {
		cfg.Output.Format = opts.output
	}
	if f.Changed("quiet") {
		cfg.Output.Quiet = opts.quiet
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if f.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		if ee, ok := err.(*exitError); ok {
			return ee.code
		}
		return ExitError
	}
	return ExitSuccess
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
