// Package worker drives one workload in a loop, stealing the shared resource
// before each iteration when configured to, and stopping cooperatively when
// its cancellation channel fires.
package worker

import (
	"context"
	"math"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gpucputest/internal/core"
)

const (
	// DefaultPollInterval is the sleep between availability checks while stealing.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxIterations bounds the iteration counter.
	DefaultMaxIterations = math.MaxUint8

	pollLogInterval = time.Second
)

// Config is fixed once the worker is created.
type Config struct {
	Name           string
	StealsResource bool
	Fixtures       core.Fixtures
	Workload       core.Workload
	Lock           core.ResourceLock
	PollInterval   time.Duration
	MaxIterations  int
	Reporter       core.Reporter
	Logger         *zap.Logger
	Clock          core.Clock
}

// Worker runs a workload until stopped. Run must be called at most once.
type Worker struct {
	cfg        Config
	log        *zap.Logger
	iterations atomic.Int64
	polling    atomic.Bool
	done       atomic.Bool
	pollLog    rate.Sometimes
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Worker, error) {
	if cfg.Name == "" {
		return nil, errors.New("worker name is empty")
	}
	if cfg.Workload == nil {
		return nil, errors.Errorf("worker %s has no workload", cfg.Name)
	}
	if cfg.Fixtures == nil {
		return nil, errors.Errorf("worker %s has no fixtures", cfg.Name)
	}
	if cfg.StealsResource && cfg.Lock == nil {
		return nil, errors.Errorf("worker %s steals the resource but has no lock", cfg.Name)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Reporter == nil {
		cfg.Reporter = core.NullReporter
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	return &Worker{
		cfg:     cfg,
		log:     cfg.Logger.Named(cfg.Name),
		pollLog: rate.Sometimes{Interval: pollLogInterval},
	}, nil
}

func (w *Worker) Name() string { return w.cfg.Name }

// Status is safe to call from any goroutine while Run is in progress.
func (w *Worker) Status() core.WorkerStatus {
	return core.WorkerStatus{
		Name:       w.cfg.Name,
		Iterations: int(w.iterations.Load()),
		Polling:    w.polling.Load(),
		Done:       w.done.Load(),
	}
}

// Run loops until stop fires or the iteration ceiling is reached. The signal
// is only observed between iterations; an invocation in progress always
// completes. A workload error ends the loop and no RunInfo is produced.
func (w *Worker) Run(ctx context.Context, stop <-chan struct{}) (core.RunInfo, error) {
	defer w.done.Store(true)
	ctx = core.ContextWithWorker(ctx, w.cfg.Name)
	start := w.cfg.Clock.Now()

	iteration := 0
	reason := core.StopCeiling
loop:
	for iteration < w.cfg.MaxIterations {
		w.log.Info("iteration", zap.Int("iteration", iteration))

		if w.cfg.StealsResource {
			w.steal()
		}

		if err := w.cfg.Workload.Run(ctx, w.cfg.Fixtures); err != nil {
			return core.RunInfo{}, errors.Annotatef(err, "worker %s iteration %d", w.cfg.Name, iteration)
		}

		select {
		case _, ok := <-stop:
			if ok {
				reason = core.StopSignalled
			} else {
				reason = core.StopChannelClosed
			}
			w.log.Debug("received kill message", zap.String("reason", string(reason)))
			break loop
		default:
		}
		iteration++
		w.iterations.Store(int64(iteration))
	}

	if reason == core.StopCeiling {
		w.log.Warn("iteration ceiling reached", zap.Int("max_iterations", w.cfg.MaxIterations))
	}

	return core.RunInfo{
		Name:       w.cfg.Name,
		Elapsed:    w.cfg.Clock.Since(start),
		Iterations: iteration,
		Reason:     reason,
	}, nil
}

// steal waits until the resource is free and stakes a momentary claim on it.
// The lock is not held across the workload call.
func (w *Worker) steal() {
	start := w.cfg.Clock.Now()
	lock := w.cfg.Lock
	polls := 0

	h, err := lock.TryAcquire()
	if err != nil {
		w.log.Info("Trying to acquire GPU lock")
		if p, ok := lock.(core.Preemptor); ok {
			withdraw := p.RequestPriority()
			defer withdraw()
		}
		w.polling.Store(true)
		for err != nil {
			for !lock.IsAvailable() {
				w.cfg.Clock.Sleep(w.cfg.PollInterval)
				polls++
				w.pollLog.Do(func() {
					w.log.Debug("Trying to acquire GPU lock", zap.Int("polls", polls))
				})
			}
			h, err = lock.TryAcquire()
		}
		w.polling.Store(false)
	}

	w.log.Debug("Acquired GPU lock, dropping it again", zap.Int("polls", polls))
	lock.Release(h)

	w.cfg.Reporter.Report(core.Event{
		Worker:    w.cfg.Name,
		Kind:      core.KindSteal,
		Timestamp: start,
		Duration:  w.cfg.Clock.Since(start),
		Polls:     polls,
	})
}
