package store

import (
	"database/sql"
	"fmt"

	"github.com/franz/mediaops/internal/util"
)

// Path represents one tracked logical filesystem location
type Path struct {
	PathID    string
	Path      string
	Drive     string
	Dir       string
	Name      string
	Ext       string
	CreatedAt string
	UpdatedAt string
}

const pathColumns = `path_id, path, COALESCE(drive, ''), COALESCE(dir, ''),
       COALESCE(name, ''), COALESCE(ext, ''), created_at, updated_at`

func scanPath(row interface{ Scan(...any) error }) (*Path, error) {
	p := &Path{}
	err := row.Scan(&p.PathID, &p.Path, &p.Drive, &p.Dir, &p.Name, &p.Ext, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan path: %w", err)
	}
	return p, nil
}

// UpsertPath inserts a path row or, on path_id conflict, updates its
// descriptive fields. path_id and created_at are never touched on update.
func (s *Store) UpsertPath(q Querier, p *Path) error {
	now := NowISO()
	_, err := q.Exec(`
		INSERT INTO paths (path_id, path, drive, dir, name, ext, created_at, updated_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?)
		ON CONFLICT(path_id) DO UPDATE SET
			path = excluded.path,
			drive = excluded.drive,
			dir = excluded.dir,
			name = excluded.name,
			ext = excluded.ext,
			updated_at = excluded.updated_at
	`, p.PathID, p.Path, p.Drive, p.Dir, p.Name, p.Ext, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert path %s: %w", p.PathID, err)
	}
	return nil
}

// GetPathByID retrieves a path row by its id, or nil if absent
func (s *Store) GetPathByID(q Querier, pathID string) (*Path, error) {
	return scanPath(q.QueryRow(`SELECT `+pathColumns+` FROM paths WHERE path_id = ?`, pathID))
}

// GetPathByString retrieves a path row by its literal path string, or nil
func (s *Store) GetPathByString(q Querier, path string) (*Path, error) {
	return scanPath(q.QueryRow(`SELECT `+pathColumns+` FROM paths WHERE path = ?`, path))
}

// UpdatePathLocation rewrites the location fields of an existing identity.
// Used for both detected renames and applied moves; the identity survives,
// only its current spelling changes.
func (s *Store) UpdatePathLocation(q Querier, pathID, path, drive, dir, name, ext string) error {
	res, err := q.Exec(`
		UPDATE paths SET path = ?, drive = NULLIF(?, ''), dir = NULLIF(?, ''),
		       name = NULLIF(?, ''), ext = NULLIF(?, ''), updated_at = ?
		WHERE path_id = ?
	`, path, drive, dir, name, ext, NowISO(), pathID)
	if err != nil {
		return fmt.Errorf("failed to update path %s: %w", pathID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("path row %s: %w", pathID, util.ErrNotFound)
	}
	return nil
}

// DeletePath removes a path row. Only the merge engine calls this, after all
// dependent rows have been repointed to the surviving identity.
func (s *Store) DeletePath(q Querier, pathID string) error {
	if _, err := q.Exec("DELETE FROM paths WHERE path_id = ?", pathID); err != nil {
		return fmt.Errorf("failed to delete path %s: %w", pathID, err)
	}
	return nil
}

// RenameCandidate is a stored path that matches a scanned file by name and
// observed size
type RenameCandidate struct {
	PathID string
	Path   string
}

// FindRenameCandidates returns distinct stored paths whose name matches and
// that have at least one observation with the given size. Capped at a small
// limit: one match means a rename, more than one is ambiguous either way.
func (s *Store) FindRenameCandidates(name string, sizeBytes int64) ([]RenameCandidate, error) {
	rows, err := s.db.Query(`
		SELECT p.path_id, p.path
		FROM paths p
		JOIN observations o ON o.path_id = p.path_id
		WHERE p.name = ? AND o.size_bytes = ?
		GROUP BY p.path_id, p.path
		LIMIT 20
	`, name, sizeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to query rename candidates: %w", err)
	}
	defer rows.Close()

	var out []RenameCandidate
	for rows.Next() {
		var c RenameCandidate
		if err := rows.Scan(&c.PathID, &c.Path); err != nil {
			return nil, fmt.Errorf("failed to scan rename candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllPaths returns every tracked path row in path order
func (s *Store) AllPaths() ([]*Path, error) {
	rows, err := s.db.Query(`SELECT ` + pathColumns + ` FROM paths ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}
	defer rows.Close()

	var out []*Path
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPaths returns the number of tracked paths
func (s *Store) CountPaths() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM paths").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count paths: %w", err)
	}
	return count, nil
}
