package core

import (
	"bytes"
	"sync"
)

// MockWriter is an io.Writer safe to share between a test and the goroutines
// it spawns, such as a progress ticker or a logger core.
type MockWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *MockWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *MockWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// Lines returns the non-empty lines written so far.
func (w *MockWriter) Lines() []string {
	var lines []string
	for _, l := range bytes.Split([]byte(w.String()), []byte("\n")) {
		if len(bytes.TrimSpace(l)) > 0 {
			lines = append(lines, string(l))
		}
	}
	return lines
}
