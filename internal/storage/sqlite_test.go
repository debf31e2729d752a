package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstraps(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(context.Background(), `
INSERT INTO job_history(job_id, session_id, command, exit_code, started_at, completed_at, stderr)
VALUES(1, 'session-a', 'sleep 1', 0, '2026-01-01T00:00:00Z', '2026-01-01T00:00:01Z', NULL);
`)
	if err != nil {
		t.Fatalf("insert into job_history: %v", err)
	}

	var count int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM job_history;`).Scan(&count); err != nil {
		t.Fatalf("count job_history: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
