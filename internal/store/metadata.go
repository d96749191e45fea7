package store

import (
	"database/sql"
	"fmt"
)

// SourceLLM marks metadata produced by the extraction collaborator
const SourceLLM = "llm"

// PathMetadata is the externally supplied structured record for a path.
//
// The primary key is path_id alone: at most one metadata row exists per path
// no matter how many sources have written to it, and a later write from any
// source replaces the earlier one. This "single latest wins" shape is kept
// deliberately (the pipeline runs one mutator at a time, so last-write-wins
// is what actually happens); source and human_reviewed are stamped on each
// write so provenance stays queryable.
type PathMetadata struct {
	PathID        string
	Source        string
	DataJSON      string
	HumanReviewed bool
	UpdatedAt     string
}

// UpsertPathMetadata writes the metadata row for a path, replacing any
// earlier row regardless of its source
func (s *Store) UpsertPathMetadata(q Querier, m *PathMetadata) error {
	reviewed := 0
	if m.HumanReviewed {
		reviewed = 1
	}
	_, err := q.Exec(`
		INSERT INTO path_metadata (path_id, source, data_json, human_reviewed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path_id) DO UPDATE SET
			source = excluded.source,
			data_json = excluded.data_json,
			human_reviewed = excluded.human_reviewed,
			updated_at = excluded.updated_at
	`, m.PathID, m.Source, m.DataJSON, reviewed, NowISO())
	if err != nil {
		return fmt.Errorf("failed to upsert metadata for %s: %w", m.PathID, err)
	}
	return nil
}

// GetPathMetadata retrieves the metadata row for a path, or nil
func (s *Store) GetPathMetadata(q Querier, pathID string) (*PathMetadata, error) {
	m := &PathMetadata{}
	var reviewed int
	err := q.QueryRow(`
		SELECT path_id, source, data_json, human_reviewed, updated_at
		FROM path_metadata WHERE path_id = ?
	`, pathID).Scan(&m.PathID, &m.Source, &m.DataJSON, &reviewed, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	m.HumanReviewed = reviewed != 0
	return m, nil
}

// MetadataWithPath joins a metadata row to its current path string
type MetadataWithPath struct {
	PathMetadata
	Path string
}

// MetadataBySource returns all metadata rows from one source joined to their
// paths. The dedup generator reads its candidate set this way.
func (s *Store) MetadataBySource(source string) ([]*MetadataWithPath, error) {
	rows, err := s.db.Query(`
		SELECT pm.path_id, pm.source, pm.data_json, pm.human_reviewed, pm.updated_at, p.path
		FROM path_metadata pm
		JOIN paths p ON p.path_id = pm.path_id
		WHERE pm.source = ?
	`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata by source: %w", err)
	}
	defer rows.Close()

	var out []*MetadataWithPath
	for rows.Next() {
		m := &MetadataWithPath{}
		var reviewed int
		if err := rows.Scan(&m.PathID, &m.Source, &m.DataJSON, &reviewed, &m.UpdatedAt, &m.Path); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		m.HumanReviewed = reviewed != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeletePathMetadata removes the metadata row for a path, if any
func (s *Store) DeletePathMetadata(q Querier, pathID string) error {
	if _, err := q.Exec("DELETE FROM path_metadata WHERE path_id = ?", pathID); err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %w", pathID, err)
	}
	return nil
}
