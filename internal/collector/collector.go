// Package collector aggregates worker events and computes per-worker metrics.
package collector

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"gpucputest/internal/core"
)

// DefaultBufferSize is the event channel capacity used by NewCollector.
const DefaultBufferSize = 1024

// Collector aggregates events from workers. It implements core.Reporter.
type Collector struct {
	events    []core.Event
	ch        chan core.Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

var _ core.Reporter = (*Collector)(nil)

// NewCollector creates a Collector with the default buffer and starts its
// collection goroutine.
func NewCollector() *Collector {
	return NewCollectorSize(DefaultBufferSize)
}

// NewCollectorSize is NewCollector with an explicit channel capacity.
func NewCollectorSize(size int) *Collector {
	if size < 1 {
		size = 1
	}
	c := &Collector{
		events:    make([]core.Event, 0, size),
		ch:        make(chan core.Event, size),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for event := range c.ch {
		c.mu.Lock()
		c.events = append(c.events, event)
		c.mu.Unlock()
	}
	close(c.done)
}

// Report sends an event to the collector without blocking. Events that do
// not fit in the buffer are counted and dropped.
func (c *Collector) Report(event core.Event) {
	select {
	case c.ch <- event:
	default:
		c.dropped.Inc()
	}
}

// Close stops accepting events and waits for the buffer to drain. It must not
// race with Report.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.endTime = time.Now()
		c.mu.Unlock()
		close(c.ch)
	})
	<-c.done
}

// Events returns a copy of collected events.
func (c *Collector) Events() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]core.Event, len(c.events))
	copy(result, c.events)
	return result
}

// Dropped is the number of events lost to a full buffer.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Duration returns the collection window; while still open it runs up to now.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// Compute returns metrics over everything collected so far.
func (c *Collector) Compute() *Metrics {
	return ComputeMetrics(c.Events(), c.Duration())
}
