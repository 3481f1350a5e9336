package localindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a SyncRun.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// SyncRun records one invocation of the pipeline against this store.
type SyncRun struct {
	RunID     string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    RunStatus
}

// CreateSyncRun creates a run row in running status.
func (s *Store) CreateSyncRun(ctx context.Context) (*SyncRun, error) {
	now := time.Now().UTC()
	runID := "run_" + uuid.NewString()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (run_id, started_at, status) VALUES (?, ?, ?)`,
		runID, now, string(RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	return &SyncRun{RunID: runID, StartedAt: now, Status: RunStatusRunning}, nil
}

// UpdateSyncRunStatus closes out a run with its final status.
func (s *Store) UpdateSyncRunStatus(ctx context.Context, runID string, status RunStatus) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, ended_at = ? WHERE run_id = ?`,
		string(status), now, runID)
	if err != nil {
		return fmt.Errorf("update sync run status: %w", err)
	}
	return nil
}

// GetSyncRun retrieves a run by ID.
func (s *Store) GetSyncRun(ctx context.Context, runID string) (*SyncRun, error) {
	var run SyncRun
	var endedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_at, ended_at, status FROM sync_runs WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.StartedAt, &endedAt, &run.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sync run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync run: %w", err)
	}

	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// LatestCompletedRun returns the most recent run that persisted an
// index (success or partial status), or nil if none exists. A
// skip-index invocation uses it to confirm there is a persisted index
// to resume from; a partial run (index-only, skip-files) counts.
func (s *Store) LatestCompletedRun(ctx context.Context) (*SyncRun, error) {
	var run SyncRun
	var endedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_at, ended_at, status
		 FROM sync_runs
		 WHERE status IN (?, ?)
		 ORDER BY started_at DESC
		 LIMIT 1`,
		string(RunStatusSuccess), string(RunStatusPartial)).Scan(&run.RunID, &run.StartedAt, &endedAt, &run.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed run: %w", err)
	}

	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}
