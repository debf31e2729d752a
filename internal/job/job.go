// Package job tracks external processes the shell started in the background.
//
// Every job gets a numeric identifier that is never reused for the lifetime
// of the table. A job's only state transition is Running -> Completed, and
// the transition is observed in exactly one place: ScanForCompletion (Wait
// funnels through the same path). Terminating a job is advisory; the job is
// only marked Completed once the OS confirms the process exited.
package job

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ID identifies one job. IDs are assigned in strictly increasing order.
type ID uint64

// State is a job's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Priority is a process scheduling class.
type Priority string

const (
	PriorityIdle        Priority = "idle"
	PriorityBelowNormal Priority = "belownormal"
	PriorityNormal      Priority = "normal"
	PriorityAboveNormal Priority = "abovenormal"
	PriorityHigh        Priority = "high"
)

// ParsePriority maps user text to a priority class.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityIdle, PriorityBelowNormal, PriorityNormal, PriorityAboveNormal, PriorityHigh:
		return Priority(s), true
	}
	return "", false
}

var (
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("not a valid job")
	// ErrCompleted reports an operation that requires a live process.
	ErrCompleted = errors.New("job already completed")
)

// Info is a snapshot of one job.
type Info struct {
	ID          ID        `json:"id"`
	Pid         int       `json:"pid"`
	Command     string    `json:"command"`
	State       State     `json:"state"`
	Completed   bool      `json:"completed"`
	HasOutput   bool      `json:"has_output"`
	ExitCode    int       `json:"exit_code"`
	Priority    Priority  `json:"priority"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// captureBuffer is a growable output buffer safe for the single writer the
// process wiring installs plus snapshot readers.
type captureBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Snapshot returns a copy of the captured bytes. Before the job completes
// the content may be partial.
func (b *captureBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func (b *captureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
