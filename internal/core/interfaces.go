// Package core defines the contracts shared by the harness: the exclusive
// resource lock, the workload, fixtures, run statistics and events.
package core

import (
	"context"
	"time"

	"github.com/pingcap/errors"
)

// ErrBusy is returned by ResourceLock.TryAcquire when another holder owns the resource.
var ErrBusy = errors.New("resource busy")

// LockHandle grants exclusive use of a resource until released.
// The zero value is not a valid handle.
type LockHandle struct {
	Token uint64
}

// Valid reports whether the handle came from a successful acquisition.
func (h LockHandle) Valid() bool {
	return h.Token != 0
}

// ResourceLock is a best-effort exclusive lock over a single hardware resource.
// None of its methods block.
type ResourceLock interface {
	TryAcquire() (LockHandle, error)
	IsAvailable() bool
	Release(LockHandle)
}

// Preemptor is implemented by locks that let a high-priority caller ask the
// current holder to yield. The returned func withdraws the claim.
type Preemptor interface {
	RequestPriority() (withdraw func())
}

// Fixtures is the immutable input consumed by a Workload.
type Fixtures interface {
	// Clone returns an independently owned deep copy.
	Clone() Fixtures
	// Digest is a hash over the canonical encoding of the fixtures.
	Digest() [32]byte
}

// FixtureBuilder produces the shared fixtures once per run.
type FixtureBuilder interface {
	Build() (Fixtures, error)
}

// FixtureBuilderFunc adapts a function to FixtureBuilder.
type FixtureBuilderFunc func() (Fixtures, error)

func (f FixtureBuilderFunc) Build() (Fixtures, error) { return f() }

// Workload is one expensive, repeatable unit of computation.
// A returned error is fatal to the calling worker.
type Workload interface {
	Run(ctx context.Context, fx Fixtures) error
}

// EventKind distinguishes what an Event measures.
type EventKind string

const (
	KindRun   EventKind = "run"
	KindSteal EventKind = "steal"
)

// ExecPath is where a workload invocation executed.
type ExecPath string

const (
	PathGPU   ExecPath = "gpu"
	PathCPU   ExecPath = "cpu"
	PathMixed ExecPath = "mixed" // started on the GPU, finished on the CPU
)

// Event is a single measurement reported by a worker or its workload.
type Event struct {
	Worker    string
	Kind      EventKind
	Timestamp time.Time
	Duration  time.Duration
	Path      ExecPath // KindRun only
	Preempted bool     // KindRun only
	Polls     int      // KindSteal only
}

// Reporter receives events. Implementations must be safe for concurrent use.
type Reporter interface {
	Report(Event)
}

// NullReporter discards all events.
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Event) {}

// MultiReporter fans each event out to every reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}
