package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Run kinds written by the pipeline commands
const (
	RunKindInventory   = "inventory"
	RunKindBackfill    = "backfill"
	RunKindDedup       = "dedup"
	RunKindRelocate    = "relocate"
	RunKindApply       = "apply"
	RunKindPreregister = "preregister"
	RunKindMetadata    = "metadata"
	RunKindRepair      = "repair"
)

// Run represents one batch operation against the store
type Run struct {
	RunID       string
	Kind        string
	TargetRoot  string
	StartedAt   string
	FinishedAt  string
	ToolVersion string
	Notes       string
}

// BeginRun inserts an open run row and returns its id. The row stays open
// until FinishRun; a run that is still open outside any live transaction
// marks an incomplete batch.
func (s *Store) BeginRun(q Querier, kind, targetRoot, toolVersion, notes string) (string, error) {
	runID := uuid.New().String()
	_, err := q.Exec(`
		INSERT INTO runs (run_id, kind, target_root, started_at, finished_at, tool_version, notes)
		VALUES (?, ?, NULLIF(?, ''), ?, NULL, NULLIF(?, ''), NULLIF(?, ''))
	`, runID, kind, targetRoot, NowISO(), toolVersion, notes)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps finished_at on a run
func (s *Store) FinishRun(q Querier, runID string) error {
	_, err := q.Exec("UPDATE runs SET finished_at = ? WHERE run_id = ?", NowISO(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id, or nil if absent
func (s *Store) GetRun(runID string) (*Run, error) {
	r := &Run{}
	err := s.db.QueryRow(`
		SELECT run_id, kind, COALESCE(target_root, ''), started_at,
		       COALESCE(finished_at, ''), COALESCE(tool_version, ''), COALESCE(notes, '')
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.Kind, &r.TargetRoot, &r.StartedAt, &r.FinishedAt, &r.ToolVersion, &r.Notes)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// OpenRuns returns runs with no finished_at, oldest first. Each one marks a
// batch that aborted or is still in flight.
func (s *Store) OpenRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, kind, COALESCE(target_root, ''), started_at,
		       COALESCE(finished_at, ''), COALESCE(tool_version, ''), COALESCE(notes, '')
		FROM runs WHERE finished_at IS NULL
		ORDER BY started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		if err := rows.Scan(&r.RunID, &r.Kind, &r.TargetRoot, &r.StartedAt, &r.FinishedAt, &r.ToolVersion, &r.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecentRuns returns the latest n runs, newest first
func (s *Store) RecentRuns(n int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, kind, COALESCE(target_root, ''), started_at,
		       COALESCE(finished_at, ''), COALESCE(tool_version, ''), COALESCE(notes, '')
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		if err := rows.Scan(&r.RunID, &r.Kind, &r.TargetRoot, &r.StartedAt, &r.FinishedAt, &r.ToolVersion, &r.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
