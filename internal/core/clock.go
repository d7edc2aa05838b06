package core

import (
	"sync"
	"time"
)

// Clock provides the time operations workers depend on, so tests can control them.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// RealClock uses the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                   { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// FakeClock is a test clock. Sleep advances it instead of blocking.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	slept   int
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

func (f *FakeClock) Sleep(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.slept++
	f.mu.Unlock()
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}

// Sleeps returns how many times Sleep was called.
func (f *FakeClock) Sleeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}
