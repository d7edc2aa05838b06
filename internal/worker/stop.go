package worker

import "sync"

// Stop is the sending half of a worker's one-shot cancellation channel.
// The worker holds the receive side returned by NewStop.
type Stop struct {
	ch     chan struct{}
	signal sync.Once
	close  sync.Once
}

// NewStop creates a cancellation channel with room for its single signal, so
// sending never blocks even if the worker has already exited.
func NewStop() (*Stop, <-chan struct{}) {
	s := &Stop{ch: make(chan struct{}, 1)}
	return s, s.ch
}

// Signal sends the stop signal. It reports false if a signal was already sent
// or the sender was closed.
func (s *Stop) Signal() bool {
	sent := false
	s.signal.Do(func() {
		s.close.Do(func() {
			s.ch <- struct{}{}
			sent = true
		})
	})
	return sent
}

// Close drops the sender without signalling. The worker treats a closed
// channel exactly like a signal.
func (s *Stop) Close() {
	s.close.Do(func() { close(s.ch) })
}
