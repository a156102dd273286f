package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// SWEEP RUN STORE
// =============================================================================

// SweepRun records one execution of the overdue sweep across all tenants.
type SweepRun struct {
	ID          string
	AsOf        time.Time
	DueBefore   time.Time
	Status      string // running, completed, failed
	Tenants     int
	Marked      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

const (
	SweepRunning   = "running"
	SweepCompleted = "completed"
	SweepFailed    = "failed"
)

// SaveSweepRun inserts a sweep run or updates its outcome.
func (s *Store) SaveSweepRun(ctx context.Context, r SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sweep_runs (id, as_of, due_before, status, tenants, marked, error,
			started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			tenants = excluded.tenants,
			marked = excluded.marked,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, formatDate(r.AsOf), formatDate(r.DueBefore), r.Status, r.Tenants, r.Marked,
		nullString(r.Error), formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save sweep run: %w", err)
	}
	return nil
}

// ListSweepRuns returns the most recent sweep runs, newest first.
// A non-positive limit returns every run.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, as_of, due_before, status, tenants, marked, error, started_at, completed_at
		FROM sweep_runs
		ORDER BY rowid DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []SweepRun
	for rows.Next() {
		var (
			r                   SweepRun
			asOf, dueBefore     string
			startedAt           string
			runErr, completedAt sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &asOf, &dueBefore, &r.Status, &r.Tenants, &r.Marked,
			&runErr, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sweep run: %w", err)
		}
		var cols timeColumns
		r.AsOf = cols.date("as_of", asOf)
		r.DueBefore = cols.date("due_before", dueBefore)
		r.Error = runErr.String
		r.StartedAt = cols.timestamp("started_at", startedAt)
		r.CompletedAt = cols.optionalTimestamp("completed_at", completedAt)
		if cols.err != nil {
			return nil, fmt.Errorf("failed to decode sweep run %s: %w", r.ID, cols.err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
