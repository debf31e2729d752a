package job

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/galeshell/gale/internal/storage"
)

// History is an append-only record of completed jobs, kept across sessions
// in SQLite. Recording is best-effort: the in-memory table stays the source
// of truth and the shell runs identically with history disabled.
type History struct {
	db        *sql.DB
	sessionID string
	stderrCap int
}

// OpenHistory opens (creating if needed) the history database at path.
// sessionID distinguishes rows written by different shell sessions.
func OpenHistory(ctx context.Context, path, sessionID string, stderrCap int) (*History, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	if stderrCap <= 0 {
		stderrCap = 64 * 1024
	}

	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &History{db: db, sessionID: sessionID, stderrCap: stderrCap}, nil
}

// Record appends one completed job.
func (h *History) Record(ctx context.Context, info Info, stderr []byte) error {
	if len(stderr) > h.stderrCap {
		stderr = stderr[:h.stderrCap]
	}
	var stderrVal any
	if len(stderr) > 0 {
		stderrVal = string(stderr)
	}

	_, err := h.db.ExecContext(ctx, `
INSERT INTO job_history(job_id, session_id, command, exit_code, started_at, completed_at, stderr)
VALUES(?, ?, ?, ?, ?, ?, ?);
`,
		uint64(info.ID),
		h.sessionID,
		info.Command,
		info.ExitCode,
		info.StartedAt.UTC().Format(time.RFC3339Nano),
		info.CompletedAt.UTC().Format(time.RFC3339Nano),
		stderrVal,
	)
	if err != nil {
		return fmt.Errorf("insert job_history: %w", err)
	}
	return nil
}

// HistoryEntry is one recorded completion.
type HistoryEntry struct {
	JobID       ID
	SessionID   string
	Command     string
	ExitCode    int
	CompletedAt time.Time
}

// Recent returns up to limit completions, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.db.QueryContext(ctx, `
SELECT job_id, session_id, command, exit_code, completed_at
FROM job_history
ORDER BY completed_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job_history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e           HistoryEntry
			jobID       uint64
			completedAt string
		)
		if err := rows.Scan(&jobID, &e.SessionID, &e.Command, &e.ExitCode, &completedAt); err != nil {
			return nil, fmt.Errorf("scan job_history: %w", err)
		}
		e.JobID = ID(jobID)
		if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
			e.CompletedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}
