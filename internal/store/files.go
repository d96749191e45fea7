package store

import (
	"database/sql"
	"fmt"
)

// File represents a stable content identity independent of location.
// Forward-looking layer: not required by the reconciliation algorithms, but
// carried through merges without loss.
type File struct {
	FileID      string
	SizeBytes   int64
	ContentHash string
	HashAlgo    string
	CreatedAt   string
	UpdatedAt   string
}

// FilePath links a content identity to a location it has been seen at
type FilePath struct {
	FileID         string
	PathID         string
	IsCurrent      bool
	FirstSeenRunID string
	LastSeenRunID  string
}

// UpsertFile inserts or refreshes a content identity
func (s *Store) UpsertFile(q Querier, f *File) error {
	now := NowISO()
	_, err := q.Exec(`
		INSERT INTO files (file_id, size_bytes, content_hash, hash_algo, created_at, updated_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			content_hash = excluded.content_hash,
			hash_algo = excluded.hash_algo,
			updated_at = excluded.updated_at
	`, f.FileID, f.SizeBytes, f.ContentHash, f.HashAlgo, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", f.FileID, err)
	}
	return nil
}

// LinkFilePath records that a content identity was seen at a path
func (s *Store) LinkFilePath(q Querier, fp *FilePath) error {
	current := 0
	if fp.IsCurrent {
		current = 1
	}
	_, err := q.Exec(`
		INSERT INTO file_paths (file_id, path_id, is_current, first_seen_run_id, last_seen_run_id)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))
		ON CONFLICT(file_id, path_id) DO UPDATE SET
			is_current = excluded.is_current,
			last_seen_run_id = excluded.last_seen_run_id
	`, fp.FileID, fp.PathID, current, fp.FirstSeenRunID, fp.LastSeenRunID)
	if err != nil {
		return fmt.Errorf("failed to link file %s to path %s: %w", fp.FileID, fp.PathID, err)
	}
	return nil
}

// FilePathsByPath returns the file links attached to a path
func (s *Store) FilePathsByPath(q Querier, pathID string) ([]*FilePath, error) {
	rows, err := q.Query(`
		SELECT file_id, path_id, is_current,
		       COALESCE(first_seen_run_id, ''), COALESCE(last_seen_run_id, '')
		FROM file_paths WHERE path_id = ?
	`, pathID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file paths: %w", err)
	}
	defer rows.Close()

	var out []*FilePath
	for rows.Next() {
		fp := &FilePath{}
		var current int
		if err := rows.Scan(&fp.FileID, &fp.PathID, &current, &fp.FirstSeenRunID, &fp.LastSeenRunID); err != nil {
			return nil, fmt.Errorf("failed to scan file path: %w", err)
		}
		fp.IsCurrent = current != 0
		out = append(out, fp)
	}
	return out, rows.Err()
}

// GetFilePath retrieves one link, or nil
func (s *Store) GetFilePath(q Querier, fileID, pathID string) (*FilePath, error) {
	fp := &FilePath{}
	var current int
	err := q.QueryRow(`
		SELECT file_id, path_id, is_current,
		       COALESCE(first_seen_run_id, ''), COALESCE(last_seen_run_id, '')
		FROM file_paths WHERE file_id = ? AND path_id = ?
	`, fileID, pathID).Scan(&fp.FileID, &fp.PathID, &current, &fp.FirstSeenRunID, &fp.LastSeenRunID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file path: %w", err)
	}
	fp.IsCurrent = current != 0
	return fp, nil
}
