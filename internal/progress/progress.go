// Package progress prints a live status line while workers run.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"gpucputest/internal/core"
)

const defaultInterval = time.Second

// Source reports the live status of every worker.
type Source interface {
	Snapshot() []core.WorkerStatus
}

type Progress struct {
	startTime time.Time
	source    Source
	interval  time.Duration
	ticker    *time.Ticker
	stopCh    chan struct{}
	done      chan struct{}
	stopped   atomic.Bool
	quiet     bool
	output    io.Writer
	mu        sync.Mutex
}

func NewProgress(s Source, quiet bool) *Progress {
	return &Progress{
		source:   s,
		interval: defaultInterval,
		quiet:    quiet,
		output:   os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

func (p *Progress) Start() {
	if p.quiet {
		return
	}
	p.startTime = time.Now()
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)
	go p.run()
}

func (p *Progress) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.printProgress()
		}
	}
}

func (p *Progress) printProgress() {
	elapsed := time.Since(p.startTime).Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	line := FormatStatus(p.source.Snapshot())
	p.mu.Lock()
	fmt.Fprintf(p.output, "\033[K[%02d:%02d] %s\r", mins, secs, line)
	p.mu.Unlock()
}

// FormatStatus renders worker statuses as one line.
func FormatStatus(statuses []core.WorkerStatus) string {
	if len(statuses) == 0 {
		return "starting"
	}
	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		state := ""
		switch {
		case st.Done:
			state = " (done)"
		case st.Polling:
			state = " (waiting for GPU)"
		}
		parts = append(parts, fmt.Sprintf("%s: %d iterations%s", st.Name, st.Iterations, state))
	}
	return strings.Join(parts, " | ")
}

// Stop ends the status line. It is safe to call more than once and without Start.
func (p *Progress) Stop() {
	if p.quiet || p.stopped.Swap(true) {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		close(p.stopCh)
		<-p.done
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\033[K")
	p.mu.Unlock()
}

func (p *Progress) Print(message string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\033[K%s\n", message)
	p.mu.Unlock()
}

func (p *Progress) Printf(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\033[K"+format+"\n", args...)
	p.mu.Unlock()
}
