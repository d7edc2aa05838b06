package workload

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"gpucputest/internal/core"
)

// ErrInvalidProof is returned when a candidate fails verification against its replica.
var ErrInvalidProof = errors.New("invalid election post proof")

const (
	DefaultPartitions          = 4
	DefaultGPUPartitionLatency = 12 * time.Millisecond
	DefaultCPUPartitionLatency = 50 * time.Millisecond
)

// Device is the GPU as seen by a proof: an exclusive lock whose holder can be
// asked to yield.
type Device interface {
	core.ResourceLock
	PriorityRequested() bool
	Yield(core.LockHandle)
}

// Options controls the simulated proving cost.
type Options struct {
	Partitions          int
	GPUPartitionLatency time.Duration
	CPUPartitionLatency time.Duration
}

func (o Options) withDefaults() Options {
	if o.Partitions <= 0 {
		o.Partitions = DefaultPartitions
	}
	if o.GPUPartitionLatency <= 0 {
		o.GPUPartitionLatency = DefaultGPUPartitionLatency
	}
	if o.CPUPartitionLatency <= 0 {
		o.CPUPartitionLatency = DefaultCPUPartitionLatency
	}
	return o
}

// ElectionPoSt generates and verifies a simulated election proof-of-spacetime.
// Each partition runs on the GPU when the device is held and on the CPU
// otherwise. A GPU holder that sees a pending priority claim yields the device
// and finishes the remaining partitions on the CPU.
type ElectionPoSt struct {
	device   Device
	opts     Options
	reporter core.Reporter
	clock    core.Clock
	log      *zap.Logger
}

var _ core.Workload = (*ElectionPoSt)(nil)

// Option configures an ElectionPoSt.
type Option func(*ElectionPoSt)

func WithReporter(r core.Reporter) Option {
	return func(p *ElectionPoSt) { p.reporter = r }
}

func WithClock(c core.Clock) Option {
	return func(p *ElectionPoSt) { p.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *ElectionPoSt) { p.log = l }
}

// NewElectionPoSt creates the workload. A nil device forces the CPU path.
func NewElectionPoSt(device Device, opts Options, options ...Option) *ElectionPoSt {
	p := &ElectionPoSt{
		device:   device,
		opts:     opts.withDefaults(),
		reporter: core.NullReporter,
		clock:    core.RealClock{},
		log:      zap.NewNop(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Run proves every candidate in fx once.
func (p *ElectionPoSt) Run(ctx context.Context, fx core.Fixtures) error {
	f, ok := fx.(*Fixtures)
	if !ok {
		return errors.Errorf("election post: unsupported fixtures %T", fx)
	}
	worker := core.WorkerFromContext(ctx)
	log := p.log.With(zap.String("worker", worker))
	start := p.clock.Now()

	var (
		handle    core.LockHandle
		onGPU     bool
		usedGPU   bool
		preempted bool
	)
	if p.device != nil {
		if h, err := p.device.TryAcquire(); err == nil {
			handle, onGPU, usedGPU = h, true, true
			log.Debug("proving on GPU")
		} else {
			log.Debug("GPU busy, proving on CPU")
		}
	}
	defer func() {
		if onGPU {
			p.device.Release(handle)
		}
	}()

	n := len(f.Candidates)
	for i := 0; i < p.opts.Partitions; i++ {
		if onGPU && p.device.PriorityRequested() {
			p.device.Yield(handle)
			onGPU, preempted = false, true
			log.Debug("priority proof waiting, moving to CPU", zap.Int("partition", i))
		}

		lo, hi := i*n/p.opts.Partitions, (i+1)*n/p.opts.Partitions
		if err := verifyPartition(f, f.Candidates[lo:hi]); err != nil {
			return errors.Annotatef(err, "partition %d", i)
		}

		if onGPU {
			p.clock.Sleep(p.opts.GPUPartitionLatency)
		} else {
			p.clock.Sleep(p.opts.CPUPartitionLatency)
		}
	}

	path := core.PathCPU
	switch {
	case usedGPU && preempted:
		path = core.PathMixed
	case usedGPU:
		path = core.PathGPU
	}
	p.reporter.Report(core.Event{
		Worker:    worker,
		Kind:      core.KindRun,
		Timestamp: start,
		Duration:  p.clock.Since(start),
		Path:      path,
		Preempted: preempted,
	})
	return nil
}

func verifyPartition(f *Fixtures, candidates []Candidate) error {
	for _, c := range candidates {
		r, ok := f.Replicas[c.SectorID]
		if !ok {
			return errors.Annotatef(ErrInvalidProof, "sector %d has no replica", c.SectorID)
		}
		if sha256.Sum256(r.Data) != r.CommR {
			return errors.Annotatef(ErrInvalidProof, "sector %d replica does not match comm_r", c.SectorID)
		}
		if c.ChallengeOffset < 0 || c.ChallengeOffset+ChallengeWindow > len(r.Data) {
			return errors.Annotatef(ErrInvalidProof, "sector %d challenge offset %d out of range", c.SectorID, c.ChallengeOffset)
		}
		if ticket(c.SectorID, r.Data, c.ChallengeOffset) != c.Ticket {
			return errors.Annotatef(ErrInvalidProof, "sector %d ticket mismatch", c.SectorID)
		}
	}
	return nil
}
