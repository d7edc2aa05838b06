package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpucputest/internal/core"
)

type stubFixtures struct{}

func (stubFixtures) Clone() core.Fixtures { return stubFixtures{} }
func (stubFixtures) Digest() [32]byte     { return [32]byte{1} }

// stubWorkload counts invocations and runs an optional hook for each.
type stubWorkload struct {
	mu    sync.Mutex
	calls int
	hook  func(call int) error
}

func (s *stubWorkload) Run(ctx context.Context, fx core.Fixtures) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if s.hook != nil {
		return s.hook(call)
	}
	return nil
}

func (s *stubWorkload) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// countingLock is busy until failAcquires attempts and busyPolls availability
// checks have been used up.
type countingLock struct {
	mu           sync.Mutex
	failAcquires int
	busyPolls    int
	tries        int
	checks       int
	releases     int
	claims       int
	withdrawn    int
}

func (l *countingLock) TryAcquire() (core.LockHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tries++
	if l.failAcquires > 0 {
		l.failAcquires--
		return core.LockHandle{}, core.ErrBusy
	}
	return core.LockHandle{Token: uint64(l.tries)}, nil
}

func (l *countingLock) IsAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks++
	if l.busyPolls > 0 {
		l.busyPolls--
		return false
	}
	return true
}

func (l *countingLock) Release(core.LockHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
}

func (l *countingLock) RequestPriority() func() {
	l.mu.Lock()
	l.claims++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.withdrawn++
		l.mu.Unlock()
	}
}

type recordingReporter struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recordingReporter) Report(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func newTestWorker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "high"
	}
	if cfg.Fixtures == nil {
		cfg.Fixtures = stubFixtures{}
	}
	w, err := New(cfg)
	require.NoError(t, err)
	return w
}

func TestWorker_StopsAtCeiling(t *testing.T) {
	wl := &stubWorkload{}
	w := newTestWorker(t, Config{Workload: wl, MaxIterations: 3})
	_, stop := NewStop()

	info, err := w.Run(context.Background(), stop)
	require.NoError(t, err)

	assert.Equal(t, "high", info.Name)
	assert.Equal(t, 3, info.Iterations)
	assert.Equal(t, core.StopCeiling, info.Reason)
	assert.Equal(t, 3, wl.Calls())
	assert.True(t, w.Status().Done)
}

func TestWorker_DefaultCeiling(t *testing.T) {
	wl := &stubWorkload{}
	w := newTestWorker(t, Config{Workload: wl})
	_, stop := NewStop()

	info, err := w.Run(context.Background(), stop)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, info.Iterations)
	assert.Equal(t, DefaultMaxIterations, wl.Calls())
}

func TestWorker_SignalStopsAfterInFlightRun(t *testing.T) {
	sender, stop := NewStop()
	wl := &stubWorkload{}
	wl.hook = func(call int) error {
		if call == 2 {
			sender.Signal()
		}
		return nil
	}
	w := newTestWorker(t, Config{Workload: wl, MaxIterations: 100})

	info, err := w.Run(context.Background(), stop)
	require.NoError(t, err)

	assert.Equal(t, core.StopSignalled, info.Reason)
	assert.Equal(t, 2, wl.Calls(), "the run in flight when the signal lands completes, nothing more")
	assert.Equal(t, 1, info.Iterations)
}

func TestWorker_ClosedChannelStops(t *testing.T) {
	sender, stop := NewStop()
	sender.Close()
	wl := &stubWorkload{}
	w := newTestWorker(t, Config{Workload: wl, MaxIterations: 100})

	info, err := w.Run(context.Background(), stop)
	require.NoError(t, err)

	assert.Equal(t, core.StopChannelClosed, info.Reason)
	assert.Equal(t, 1, wl.Calls())
	assert.Equal(t, 0, info.Iterations)
}

func TestWorker_IterationsMonotonic(t *testing.T) {
	var (
		w    *Worker
		seen []int
	)
	wl := &stubWorkload{}
	wl.hook = func(int) error {
		seen = append(seen, w.Status().Iterations)
		return nil
	}
	w = newTestWorker(t, Config{Workload: wl, MaxIterations: 10})
	_, stop := NewStop()

	info, err := w.Run(context.Background(), stop)
	require.NoError(t, err)

	require.Len(t, seen, 10)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, info.Iterations, w.Status().Iterations)
}

func TestWorker_ElapsedUsesClock(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	wl := &stubWorkload{hook: func(int) error {
		clock.Advance(50 * time.Millisecond)
		return nil
	}}
	w := newTestWorker(t, Config{Workload: wl, MaxIterations: 4, Clock: clock})
	_, stop := NewStop()

	info, err := w.Run(context.Background(), stop)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, info.Elapsed)
}

func TestWorker_StealPollsUntilAvailable(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	lock := &countingLock{failAcquires: 1, busyPolls: 3}
	rep := &recordingReporter{}
	wl := &stubWorkload{}
	w := newTestWorker(t, Config{
		Workload:       wl,
		Lock:           lock,
		StealsResource: true,
		MaxIterations:  1,
		PollInterval:   100 * time.Millisecond,
		Clock:          clock,
		Reporter:       rep,
	})
	_, stop := NewStop()

	_, err := w.Run(context.Background(), stop)
	require.NoError(t, err)

	assert.Equal(t, 2, lock.tries)
	assert.Equal(t, 4, lock.checks)
	assert.Equal(t, 1, lock.releases)
	assert.Equal(t, 1, lock.claims)
	assert.Equal(t, 1, lock.withdrawn)
	assert.Equal(t, 3, clock.Sleeps())

	require.Len(t, rep.events, 1)
	e := rep.events[0]
	assert.Equal(t, core.KindSteal, e.Kind)
	assert.Equal(t, 3, e.Polls)
	assert.Equal(t, 300*time.Millisecond, e.Duration)
	assert.False(t, w.Status().Polling)
}

func TestWorker_StealRetriesLostRace(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	lock := &countingLock{failAcquires: 3}
	w := newTestWorker(t, Config{
		Workload:       &stubWorkload{},
		Lock:           lock,
		StealsResource: true,
		MaxIterations:  1,
		Clock:          clock,
	})
	_, stop := NewStop()

	_, err := w.Run(context.Background(), stop)
	require.NoError(t, err)
	assert.Equal(t, 4, lock.tries)
	assert.Equal(t, 1, lock.releases)
}

func TestWorker_StealUncontended(t *testing.T) {
	lock := &countingLock{}
	w := newTestWorker(t, Config{
		Workload:       &stubWorkload{},
		Lock:           lock,
		StealsResource: true,
		MaxIterations:  5,
	})
	_, stop := NewStop()

	_, err := w.Run(context.Background(), stop)
	require.NoError(t, err)
	assert.Equal(t, 5, lock.tries)
	assert.Equal(t, 5, lock.releases)
	assert.Equal(t, 0, lock.checks)
	assert.Equal(t, 0, lock.claims)
}

func TestWorker_NoStealingNeverTouchesLock(t *testing.T) {
	lock := &countingLock{}
	w := newTestWorker(t, Config{Workload: &stubWorkload{}, Lock: lock, MaxIterations: 5})
	_, stop := NewStop()

	_, err := w.Run(context.Background(), stop)
	require.NoError(t, err)
	assert.Zero(t, lock.tries)
	assert.Zero(t, lock.checks)
	assert.Zero(t, lock.releases)
}

func TestWorker_WorkloadFailureIsFatal(t *testing.T) {
	boom := errors.New("proof failed")
	wl := &stubWorkload{hook: func(call int) error {
		if call == 3 {
			return boom
		}
		return nil
	}}
	w := newTestWorker(t, Config{Workload: wl, MaxIterations: 10})
	_, stop := NewStop()

	info, err := w.Run(context.Background(), stop)
	require.Error(t, err)
	assert.Equal(t, boom, errors.Cause(err))
	assert.Equal(t, core.RunInfo{}, info)
	assert.Equal(t, 3, wl.Calls())
	assert.True(t, w.Status().Done)
}

func TestWorker_ContextCarriesName(t *testing.T) {
	var got string
	wl := workloadFunc(func(ctx context.Context, fx core.Fixtures) error {
		got = core.WorkerFromContext(ctx)
		return nil
	})
	w := newTestWorker(t, Config{Name: "low", Workload: wl, MaxIterations: 1})
	_, stop := NewStop()

	_, err := w.Run(context.Background(), stop)
	require.NoError(t, err)
	assert.Equal(t, "low", got)
}

type workloadFunc func(ctx context.Context, fx core.Fixtures) error

func (f workloadFunc) Run(ctx context.Context, fx core.Fixtures) error { return f(ctx, fx) }

func TestNew_Validation(t *testing.T) {
	cases := map[string]Config{
		"empty name":         {Workload: &stubWorkload{}, Fixtures: stubFixtures{}},
		"no workload":        {Name: "high", Fixtures: stubFixtures{}},
		"no fixtures":        {Name: "high", Workload: &stubWorkload{}},
		"steal without lock": {Name: "high", Workload: &stubWorkload{}, Fixtures: stubFixtures{}, StealsResource: true},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestStop_SignalOnce(t *testing.T) {
	sender, stop := NewStop()
	assert.True(t, sender.Signal())
	assert.False(t, sender.Signal())

	_, ok := <-stop
	assert.True(t, ok)

	select {
	case <-stop:
		t.Fatal("only one signal may be delivered")
	default:
	}
}

func TestStop_SignalAfterCloseIsNoop(t *testing.T) {
	sender, stop := NewStop()
	sender.Close()
	sender.Close()
	assert.False(t, sender.Signal())

	_, ok := <-stop
	assert.False(t, ok)
}

func TestStop_SignalWithoutReceiverDoesNotBlock(t *testing.T) {
	sender, _ := NewStop()
	done := make(chan struct{})
	go func() {
		sender.Signal()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Signal blocked with no receiver")
	}
}
