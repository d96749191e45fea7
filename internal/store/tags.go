package store

import (
	"database/sql"
	"fmt"
)

// Tag is a namespaced label
type Tag struct {
	TagID     int64
	Name      string
	Namespace string
}

// PathTag attaches a tag to a path with provenance
type PathTag struct {
	PathID    string
	TagID     int64
	Source    string
	UpdatedAt string
}

// EnsureTag returns the id of the (namespace, name) tag, creating it if needed
func (s *Store) EnsureTag(q Querier, namespace, name string) (int64, error) {
	_, err := q.Exec(`
		INSERT INTO tags (name, namespace) VALUES (?, ?)
		ON CONFLICT(namespace, name) DO NOTHING
	`, name, namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure tag %s/%s: %w", namespace, name, err)
	}

	var id int64
	err = q.QueryRow("SELECT tag_id FROM tags WHERE namespace = ? AND name = ?", namespace, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to get tag id for %s/%s: %w", namespace, name, err)
	}
	return id, nil
}

// AttachPathTag upserts the (path, tag, source) attachment
func (s *Store) AttachPathTag(q Querier, pathID string, tagID int64, source string) error {
	_, err := q.Exec(`
		INSERT INTO path_tags (path_id, tag_id, source, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path_id, tag_id, source) DO UPDATE SET
			updated_at = excluded.updated_at
	`, pathID, tagID, source, NowISO())
	if err != nil {
		return fmt.Errorf("failed to attach tag %d to %s: %w", tagID, pathID, err)
	}
	return nil
}

// DetachPathTag removes one (path, tag, source) attachment
func (s *Store) DetachPathTag(q Querier, pathID string, tagID int64, source string) error {
	_, err := q.Exec("DELETE FROM path_tags WHERE path_id = ? AND tag_id = ? AND source = ?",
		pathID, tagID, source)
	if err != nil {
		return fmt.Errorf("failed to detach tag %d from %s: %w", tagID, pathID, err)
	}
	return nil
}

// TagsForPath lists the tags attached to a path with their provenance
func (s *Store) TagsForPath(pathID string) ([]struct {
	Tag
	Source string
}, error) {
	rows, err := s.db.Query(`
		SELECT t.tag_id, t.name, t.namespace, pt.source
		FROM path_tags pt
		JOIN tags t ON t.tag_id = pt.tag_id
		WHERE pt.path_id = ?
		ORDER BY t.namespace, t.name
	`, pathID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var out []struct {
		Tag
		Source string
	}
	for rows.Next() {
		var r struct {
			Tag
			Source string
		}
		if err := rows.Scan(&r.TagID, &r.Name, &r.Namespace, &r.Source); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindTag looks up a tag id, or returns sql.ErrNoRows wrapped as nil id
func (s *Store) FindTag(namespace, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow("SELECT tag_id FROM tags WHERE namespace = ? AND name = ?", namespace, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find tag %s/%s: %w", namespace, name, err)
	}
	return id, true, nil
}
