package store

import (
	"database/sql"
	"fmt"
)

// Observation is a run-scoped snapshot fact about a path
type Observation struct {
	RunID     string
	PathID    string
	SizeBytes int64
	MtimeUTC  string
	Type      string
	NameFlags string
}

// UpsertObservation inserts or replaces the observation for (run, path).
// Re-running an ingest within the same run is idempotent.
func (s *Store) UpsertObservation(q Querier, o *Observation) error {
	_, err := q.Exec(`
		INSERT INTO observations (run_id, path_id, size_bytes, mtime_utc, type, name_flags)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))
		ON CONFLICT(run_id, path_id) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			mtime_utc = excluded.mtime_utc,
			type = excluded.type,
			name_flags = excluded.name_flags
	`, o.RunID, o.PathID, o.SizeBytes, o.MtimeUTC, o.Type, o.NameFlags)
	if err != nil {
		return fmt.Errorf("failed to upsert observation (%s, %s): %w", o.RunID, o.PathID, err)
	}
	return nil
}

// HasObservation reports whether any run has observed the path
func (s *Store) HasObservation(pathID string) (bool, error) {
	var x int
	err := s.db.QueryRow("SELECT 1 FROM observations WHERE path_id = ? LIMIT 1", pathID).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check observation: %w", err)
	}
	return true, nil
}

// LatestObservation returns the newest observation for a path (by run start
// time), or nil if the path was never observed
func (s *Store) LatestObservation(pathID string) (*Observation, error) {
	o := &Observation{}
	err := s.db.QueryRow(`
		SELECT o.run_id, o.path_id, o.size_bytes, COALESCE(o.mtime_utc, ''),
		       COALESCE(o.type, ''), COALESCE(o.name_flags, '')
		FROM observations o
		JOIN runs r ON r.run_id = o.run_id
		WHERE o.path_id = ?
		ORDER BY r.started_at DESC
		LIMIT 1
	`, pathID).Scan(&o.RunID, &o.PathID, &o.SizeBytes, &o.MtimeUTC, &o.Type, &o.NameFlags)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest observation: %w", err)
	}
	return o, nil
}

// LatestObservations loads the newest observation per path into a map.
// Plan generators preload this instead of issuing one query per candidate.
func (s *Store) LatestObservations() (map[string]*Observation, error) {
	rows, err := s.db.Query(`
		SELECT o.run_id, o.path_id, o.size_bytes, COALESCE(o.mtime_utc, ''),
		       COALESCE(o.type, ''), COALESCE(o.name_flags, '')
		FROM observations o
		JOIN runs r ON r.run_id = o.run_id
		ORDER BY r.started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	// Rows arrive oldest run first, so the last write per path wins.
	out := make(map[string]*Observation)
	for rows.Next() {
		o := &Observation{}
		if err := rows.Scan(&o.RunID, &o.PathID, &o.SizeBytes, &o.MtimeUTC, &o.Type, &o.NameFlags); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		out[o.PathID] = o
	}
	return out, rows.Err()
}

// CountObservations returns the number of observations recorded for a run
func (s *Store) CountObservations(runID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM observations WHERE run_id = ?", runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return count, nil
}
