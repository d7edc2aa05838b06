// Package supervisor orchestrates the high- and low-priority workers: it builds
// the fixtures once, spawns the workers, enforces the global timeout, signals
// every worker to stop and joins them.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gpucputest/internal/core"
	"gpucputest/internal/worker"
)

const (
	// DefaultTimeout is how long workers run before they are told to stop.
	DefaultTimeout = 5 * time.Minute

	HighPriority = "high"
	LowPriority  = "low"
)

var (
	// ErrSpawnFailed means a worker could not be created; the run cannot proceed.
	ErrSpawnFailed = errors.New("worker spawn failed")
	// ErrWorkerPanicked means a worker goroutine terminated abnormally.
	ErrWorkerPanicked = errors.New("worker panicked")
)

// Config selects which workers run and how.
type Config struct {
	Parallel      bool
	GPUStealing   bool
	Timeout       time.Duration
	PollInterval  time.Duration
	MaxIterations int
}

// Result is what a successful run produces.
type Result struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Workers  []core.RunInfo
}

type joinResult struct {
	info core.RunInfo
	err  error
}

// handle tracks one spawned worker.
type handle struct {
	worker *worker.Worker
	stop   *worker.Stop
	done   chan joinResult
}

type Supervisor struct {
	cfg      Config
	lock     core.ResourceLock
	workload core.Workload
	fixtures core.FixtureBuilder
	reporter core.Reporter
	log      *zap.Logger
	clock    core.Clock
	runID    string

	mu      sync.Mutex
	handles []*handle
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

func WithReporter(r core.Reporter) Option {
	return func(s *Supervisor) { s.reporter = r }
}

func WithClock(c core.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

func WithRunID(id string) Option {
	return func(s *Supervisor) { s.runID = id }
}

// New creates a Supervisor. The lock is shared by reference between workers;
// fixtures are built once per Run and cloned for each worker.
func New(cfg Config, lock core.ResourceLock, workload core.Workload, fixtures core.FixtureBuilder, opts ...Option) *Supervisor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s := &Supervisor{
		cfg:      cfg,
		lock:     lock,
		workload: workload,
		fixtures: fixtures,
		reporter: core.NullReporter,
		log:      zap.NewNop(),
		clock:    core.RealClock{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	s.log = s.log.With(zap.String("run_id", s.runID))
	return s
}

func (s *Supervisor) RunID() string { return s.runID }

// Plan returns the worker configurations this supervisor would spawn.
// Fixtures are left unset.
func (s *Supervisor) Plan() []worker.Config {
	plan := []worker.Config{s.workerConfig(HighPriority, s.cfg.GPUStealing)}
	if s.cfg.Parallel {
		plan = append(plan, s.workerConfig(LowPriority, false))
	}
	return plan
}

func (s *Supervisor) workerConfig(name string, steals bool) worker.Config {
	return worker.Config{
		Name:           name,
		StealsResource: steals,
		Workload:       s.workload,
		Lock:           s.lock,
		PollInterval:   s.cfg.PollInterval,
		MaxIterations:  s.cfg.MaxIterations,
		Reporter:       s.reporter,
		Logger:         s.log,
		Clock:          s.clock,
	}
}

// Run executes one diagnostic run. It returns once every worker has been
// joined. Cancelling ctx ends the wait early; it never interrupts a workload
// invocation. Any worker failure fails the whole run.
func (s *Supervisor) Run(ctx context.Context) (*Result, error) {
	log := s.log
	started := s.clock.Now()

	if s.fixtures == nil {
		return nil, errors.Annotate(ErrSpawnFailed, "no fixture builder")
	}
	fx, err := s.fixtures.Build()
	if err != nil {
		return nil, errors.Annotate(err, "building fixtures")
	}
	log.Debug("fixtures built", zap.String("digest", fmt.Sprintf("%x", fx.Digest())))

	workCtx := context.WithoutCancel(ctx)
	failed := make(chan struct{})
	var failOnce sync.Once
	onFailure := func() { failOnce.Do(func() { close(failed) }) }

	specs := s.Plan()
	handles := make([]*handle, 0, len(specs))
	for _, spec := range specs {
		spec.Fixtures = fx.Clone()
		h, err := s.spawn(workCtx, spec, onFailure)
		if err != nil {
			log.Error("spawning worker failed", zap.String("worker", spec.Name), zap.Error(err))
			s.signalAll(handles)
			_, _ = s.join(handles)
			return nil, err
		}
		handles = append(handles, h)
	}
	s.setHandles(handles)

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		log.Info("Waited long enough to kill all threads", zap.Duration("timeout", s.cfg.Timeout))
	case <-ctx.Done():
		log.Warn("run interrupted, stopping workers", zap.Error(ctx.Err()))
	case <-failed:
		log.Error("worker failed, stopping remaining workers")
	}

	s.signalAll(handles)
	infos, err := s.join(handles)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		log.Info("worker finished", zap.String("worker", info.Name), zap.Stringer("run_info", info))
	}

	return &Result{
		RunID:    s.runID,
		Started:  started,
		Duration: s.clock.Since(started),
		Workers:  infos,
	}, nil
}

func (s *Supervisor) spawn(ctx context.Context, cfg worker.Config, onFailure func()) (*handle, error) {
	w, err := worker.New(cfg)
	if err != nil {
		return nil, errors.Annotate(ErrSpawnFailed, err.Error())
	}
	stop, recv := worker.NewStop()
	h := &handle{worker: w, stop: stop, done: make(chan joinResult, 1)}

	go func() {
		var res joinResult
		defer func() {
			if r := recover(); r != nil {
				res = joinResult{err: errors.Annotatef(ErrWorkerPanicked, "worker %s: %v", w.Name(), r)}
			}
			if res.err != nil {
				onFailure()
			}
			h.done <- res
		}()
		res.info, res.err = w.Run(ctx, recv)
	}()

	s.log.Debug("spawned worker", zap.String("worker", cfg.Name), zap.Bool("steals_resource", cfg.StealsResource))
	return h, nil
}

// signalAll sends every worker its stop signal. A worker that already exited
// on its own leaves the signal unread, which is fine.
func (s *Supervisor) signalAll(handles []*handle) {
	for _, h := range handles {
		if !h.stop.Signal() {
			s.log.Debug("stop signal already sent", zap.String("worker", h.worker.Name()))
		}
	}
}

// join waits for every worker in spawn order and combines their failures.
func (s *Supervisor) join(handles []*handle) ([]core.RunInfo, error) {
	infos := make([]core.RunInfo, 0, len(handles))
	var errs error
	for _, h := range handles {
		res := <-h.done
		if res.err != nil {
			errs = multierr.Append(errs, res.err)
			continue
		}
		infos = append(infos, res.info)
	}
	if errs != nil {
		return nil, errs
	}
	return infos, nil
}

func (s *Supervisor) setHandles(handles []*handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = handles
}

// Snapshot returns the live status of every spawned worker.
func (s *Supervisor) Snapshot() []core.WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.WorkerStatus, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h.worker.Status())
	}
	return out
}
