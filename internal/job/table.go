package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/galeshell/gale/internal/log"
)

// record is the table's private view of one job. The table owns the record
// and its buffers; callers only ever see Info snapshots and buffer copies.
type record struct {
	id       ID
	pid      int
	command  string
	cmd      *exec.Cmd
	priority Priority

	stdout *captureBuffer
	stderr *captureBuffer

	// done is closed by the waiter goroutine once cmd.Wait returns.
	// waitErr is only read after done is closed.
	done    chan struct{}
	waitErr error

	completed   bool
	exitCode    int
	hasOutput   bool
	startedAt   time.Time
	completedAt time.Time
}

// Table tracks every background job the shell has started.
type Table struct {
	mu      sync.Mutex
	nextID  ID
	jobs    map[ID]*record
	history *History
	logger  *slog.Logger
}

// NewTable creates an empty job table. history may be nil.
func NewTable(history *History) *Table {
	return &Table{
		jobs:    make(map[ID]*record),
		history: history,
		logger:  log.WithComponent("job"),
	}
}

// Launch starts cmd as a background job and registers it. The table attaches
// its own capture buffers, so cmd.Stdout and cmd.Stderr must be unset.
// command is the display text for the job.
func (t *Table) Launch(cmd *exec.Cmd, command string) (ID, error) {
	if cmd.Stdout != nil || cmd.Stderr != nil {
		return 0, fmt.Errorf("command output is already wired")
	}

	rec := &record{
		command:  command,
		priority: PriorityNormal,
		stdout:   &captureBuffer{},
		stderr:   &captureBuffer{},
		done:     make(chan struct{}),
	}
	cmd.Stdout = rec.stdout
	cmd.Stderr = rec.stderr

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start process: %w", err)
	}

	t.mu.Lock()
	t.nextID++
	rec.id = t.nextID
	rec.cmd = cmd
	rec.pid = cmd.Process.Pid
	rec.startedAt = time.Now()
	t.jobs[rec.id] = rec
	t.mu.Unlock()

	go func() {
		rec.waitErr = cmd.Wait()
		close(rec.done)
	}()

	log.WithJob(uint64(rec.id)).Info("job started", "pid", rec.pid, "command", command)
	return rec.id, nil
}

// NextID returns the smallest assigned id greater than after, or 0 when no
// such job remains. Passing 0 starts the enumeration.
func (t *Table) NextID(after ID) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best ID
	for id := range t.jobs {
		if id > after && (best == 0 || id < best) {
			best = id
		}
	}
	return best
}

// ScanForCompletion observes process exits and performs the Running ->
// Completed transition. With teardown false the check is non-blocking; with
// teardown true it waits for every outstanding job. This is the only place a
// job's state changes.
func (t *Table) ScanForCompletion(teardown bool) {
	t.mu.Lock()
	running := make([]*record, 0, len(t.jobs))
	for _, rec := range t.jobs {
		if !rec.completed {
			running = append(running, rec)
		}
	}
	t.mu.Unlock()

	for _, rec := range running {
		if teardown {
			<-rec.done
		} else {
			select {
			case <-rec.done:
			default:
				continue
			}
		}
		t.finalize(rec)
	}
}

// finalize records a confirmed exit. Idempotent per record.
func (t *Table) finalize(rec *record) {
	t.mu.Lock()
	if rec.completed {
		t.mu.Unlock()
		return
	}
	rec.completed = true
	rec.completedAt = time.Now()
	rec.exitCode = exitCodeFromWait(rec.cmd, rec.waitErr)
	rec.hasOutput = rec.stdout.Len() > 0 || rec.stderr.Len() > 0
	info := snapshot(rec)
	t.mu.Unlock()

	log.WithJob(uint64(rec.id)).Info("job completed", "exit_code", info.ExitCode, "has_output", info.HasOutput)

	if t.history != nil {
		if err := t.history.Record(context.Background(), info, rec.stderr.Snapshot()); err != nil {
			t.logger.Warn("failed to record job history", "job_id", rec.id, "error", err)
		}
	}
}

func exitCodeFromWait(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return cmd.ProcessState.ExitCode()
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func snapshot(rec *record) Info {
	state := StateRunning
	if rec.completed {
		state = StateCompleted
	}
	return Info{
		ID:          rec.id,
		Pid:         rec.pid,
		Command:     rec.command,
		State:       state,
		Completed:   rec.completed,
		HasOutput:   rec.hasOutput,
		ExitCode:    rec.exitCode,
		Priority:    rec.priority,
		StartedAt:   rec.startedAt,
		CompletedAt: rec.completedAt,
	}
}

// Info returns a snapshot of the job. The exit code is only meaningful once
// Completed is true, and is stable from then on.
func (t *Table) Info(id ID) (Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.jobs[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return snapshot(rec), nil
}

// Jobs returns snapshots of every known job in ascending id order.
func (t *Table) Jobs() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Info, 0, len(t.jobs))
	for _, rec := range t.jobs {
		out = append(out, snapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Output returns copies of the captured stdout and stderr. Reading before
// completion returns whatever has been captured so far.
func (t *Table) Output(id ID) (stdout, stderr []byte, err error) {
	t.mu.Lock()
	rec, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	return rec.stdout.Snapshot(), rec.stderr.Snapshot(), nil
}

// PipeOutput forwards the captured buffers to the given sinks, typically to
// let a foreground re-attachment of a backgrounded job stream its output.
func (t *Table) PipeOutput(id ID, stdoutSink, stderrSink io.Writer) error {
	stdout, stderr, err := t.Output(id)
	if err != nil {
		return err
	}
	if stdoutSink != nil {
		if _, err := stdoutSink.Write(stdout); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
	}
	if stderrSink != nil {
		if _, err := stderrSink.Write(stderr); err != nil {
			return fmt.Errorf("write stderr: %w", err)
		}
	}
	return nil
}

// SetPriority applies a scheduling priority class to the live process.
func (t *Table) SetPriority(id ID, p Priority) error {
	t.mu.Lock()
	rec, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	if rec.completed {
		t.mu.Unlock()
		return ErrCompleted
	}
	pid := rec.pid
	t.mu.Unlock()

	if err := applyPriority(pid, p); err != nil {
		return fmt.Errorf("set priority: %w", err)
	}

	t.mu.Lock()
	rec.priority = p
	t.mu.Unlock()
	log.WithJob(uint64(id)).Info("job priority changed", "priority", string(p))
	return nil
}

// Terminate requests immediate termination of the job's process. The job is
// not marked Completed here; a later scan observes the exit and performs the
// transition.
func (t *Table) Terminate(id ID) error {
	t.mu.Lock()
	rec, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	if rec.completed {
		t.mu.Unlock()
		return ErrCompleted
	}
	t.mu.Unlock()

	if err := rec.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("terminate process: %w", err)
	}
	log.WithJob(uint64(id)).Info("job termination requested")
	return nil
}

// Wait blocks until the job completes or ctx is cancelled. Completion is
// recorded through the same path the scan uses.
func (t *Table) Wait(ctx context.Context, id ID) error {
	t.mu.Lock()
	rec, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rec.done:
	}
	t.finalize(rec)
	return nil
}

// Teardown force-completes every outstanding job and discards all records.
// Partial failures are swallowed; the shell is exiting regardless.
func (t *Table) Teardown() {
	t.ScanForCompletion(true)

	t.mu.Lock()
	n := len(t.jobs)
	t.jobs = make(map[ID]*record)
	t.mu.Unlock()

	if t.history != nil {
		if err := t.history.Close(); err != nil {
			t.logger.Warn("failed to close job history", "error", err)
		}
	}
	if n > 0 {
		t.logger.Info("job table torn down", "jobs", n)
	}
}
