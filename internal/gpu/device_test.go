package gpu

import (
	"sync"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpucputest/internal/core"
)

func TestDevice_TryAcquireExclusive(t *testing.T) {
	d := NewDevice("")
	assert.Equal(t, "gpu0", d.Name())
	assert.True(t, d.IsAvailable())

	h, err := d.TryAcquire()
	require.NoError(t, err)
	assert.True(t, h.Valid())
	assert.False(t, d.IsAvailable())

	_, err = d.TryAcquire()
	assert.Equal(t, core.ErrBusy, errors.Cause(err))

	d.Release(h)
	assert.True(t, d.IsAvailable())

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Acquisitions)
	assert.Equal(t, int64(1), stats.Contended)
}

func TestDevice_ReleaseStaleHandleIsNoop(t *testing.T) {
	d := NewDevice("gpu0")
	first, err := d.TryAcquire()
	require.NoError(t, err)
	d.Release(first)

	second, err := d.TryAcquire()
	require.NoError(t, err)

	d.Release(first)
	d.Release(core.LockHandle{})
	assert.False(t, d.IsAvailable(), "stale handle must not free the device")

	d.Release(second)
	assert.True(t, d.IsAvailable())
}

func TestDevice_PriorityClaims(t *testing.T) {
	d := NewDevice("gpu0")
	assert.False(t, d.PriorityRequested())

	withdrawA := d.RequestPriority()
	withdrawB := d.RequestPriority()
	assert.True(t, d.PriorityRequested())

	withdrawA()
	withdrawA()
	assert.True(t, d.PriorityRequested(), "double withdraw must not drop another claim")

	withdrawB()
	assert.False(t, d.PriorityRequested())
}

func TestDevice_YieldCountsOnlyForHolder(t *testing.T) {
	d := NewDevice("gpu0")
	h, err := d.TryAcquire()
	require.NoError(t, err)

	d.Yield(core.LockHandle{Token: h.Token + 100})
	assert.False(t, d.IsAvailable())

	d.Yield(h)
	assert.True(t, d.IsAvailable())
	assert.Equal(t, int64(1), d.Stats().Yields)
}

func TestDevice_ConcurrentAcquireHasOneWinner(t *testing.T) {
	d := NewDevice("gpu0")
	const contenders = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := d.TryAcquire(); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners)
	stats := d.Stats()
	assert.Equal(t, int64(contenders-1), stats.Contended)
}
