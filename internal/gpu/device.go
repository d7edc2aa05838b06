// Package gpu simulates a single exclusive GPU shared by proof workers.
//
// The device lock is a holder token swapped with CAS. TryAcquire never blocks;
// callers that must have the device poll IsAvailable. A high-priority caller
// registers a claim with RequestPriority, which GPU holders observe through
// PriorityRequested and answer by yielding to the CPU path.
package gpu

import (
	"sync"

	"go.uber.org/atomic"

	"gpucputest/internal/core"
)

const free uint64 = 0

// Stats counts device activity since creation.
type Stats struct {
	Acquisitions int64 `json:"acquisitions"`
	Contended    int64 `json:"contended"`
	Yields       int64 `json:"yields"`
}

// Device is a simulated exclusive GPU. It is safe for concurrent use.
type Device struct {
	name      string
	holder    atomic.Uint64
	nextToken atomic.Uint64
	waiting   atomic.Int32

	acquisitions atomic.Int64
	contended    atomic.Int64
	yields       atomic.Int64
}

var (
	_ core.ResourceLock = (*Device)(nil)
	_ core.Preemptor    = (*Device)(nil)
)

// NewDevice creates an idle device.
func NewDevice(name string) *Device {
	if name == "" {
		name = "gpu0"
	}
	return &Device{name: name}
}

func (d *Device) Name() string { return d.name }

// TryAcquire takes the device if it is free and returns ErrBusy otherwise.
func (d *Device) TryAcquire() (core.LockHandle, error) {
	token := d.nextToken.Inc()
	if !d.holder.CompareAndSwap(free, token) {
		d.contended.Inc()
		return core.LockHandle{}, core.ErrBusy
	}
	d.acquisitions.Inc()
	return core.LockHandle{Token: token}, nil
}

// IsAvailable reports whether nobody holds the device right now.
func (d *Device) IsAvailable() bool {
	return d.holder.Load() == free
}

// Release frees the device if h is the current holder. Stale or zero handles
// are ignored.
func (d *Device) Release(h core.LockHandle) {
	if !h.Valid() {
		return
	}
	d.holder.CompareAndSwap(h.Token, free)
}

// RequestPriority registers a pending high-priority claim. Calling the
// returned func more than once has no further effect.
func (d *Device) RequestPriority() func() {
	d.waiting.Inc()
	var once sync.Once
	return func() {
		once.Do(func() { d.waiting.Dec() })
	}
}

// PriorityRequested reports whether any high-priority claim is pending.
func (d *Device) PriorityRequested() bool {
	return d.waiting.Load() > 0
}

// Yield releases h on behalf of a holder that is giving way to a priority claim.
func (d *Device) Yield(h core.LockHandle) {
	if h.Valid() && d.holder.CompareAndSwap(h.Token, free) {
		d.yields.Inc()
	}
}

func (d *Device) Stats() Stats {
	return Stats{
		Acquisitions: d.acquisitions.Load(),
		Contended:    d.contended.Load(),
		Yields:       d.yields.Load(),
	}
}
