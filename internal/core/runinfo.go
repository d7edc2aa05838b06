package core

import (
	"fmt"
	"time"
)

// StopReason records why a worker left its loop.
type StopReason string

const (
	StopSignalled     StopReason = "signalled"
	StopChannelClosed StopReason = "channel-closed"
	StopCeiling       StopReason = "ceiling"
)

// RunInfo summarises one worker's run. It is produced once, when the loop exits.
type RunInfo struct {
	Name       string        `json:"name"`
	Elapsed    time.Duration `json:"elapsed"`
	Iterations int           `json:"iterations"`
	Reason     StopReason    `json:"reason"`
}

func (r RunInfo) String() string {
	return fmt.Sprintf("RunInfo { elapsed: %v, iterations: %d, reason: %s }",
		r.Elapsed.Round(time.Millisecond), r.Iterations, r.Reason)
}

// WorkerStatus is a live view of a running worker.
type WorkerStatus struct {
	Name       string
	Iterations int
	Polling    bool
	Done       bool
}
