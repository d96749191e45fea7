package store

import (
	"fmt"
)

// MergeCounts summarizes how many rows each dependent table gave up to the
// surviving identity during a collision merge
type MergeCounts struct {
	Observations int `json:"observations"`
	Metadata     int `json:"metadata"`
	FilePaths    int `json:"file_paths"`
	PathTags     int `json:"path_tags"`
	Events       int `json:"events"`
}

// MergePaths migrates every dependent record from srcID to dstID, rewrites
// the destination path row to the new location and deletes the source row.
// Exactly one path row (dstID) survives; no dependent row may remain under
// srcID afterward. Must run inside the apply batch transaction.
func (s *Store) MergePaths(q Querier, srcID, dstID, newPath, drive, dir, name, ext string) (*MergeCounts, error) {
	counts := &MergeCounts{}
	var err error

	if counts.Observations, err = s.mergeObservations(q, srcID, dstID); err != nil {
		return nil, err
	}
	if counts.Metadata, err = s.mergeMetadata(q, srcID, dstID); err != nil {
		return nil, err
	}
	if counts.FilePaths, err = s.mergeFilePaths(q, srcID, dstID); err != nil {
		return nil, err
	}
	if counts.PathTags, err = s.mergePathTags(q, srcID, dstID); err != nil {
		return nil, err
	}
	if counts.Events, err = s.repointEvents(q, srcID, dstID); err != nil {
		return nil, err
	}

	now := NowISO()
	res, err := q.Exec(`
		UPDATE paths SET path = ?, drive = NULLIF(?, ''), dir = NULLIF(?, ''),
		       name = NULLIF(?, ''), ext = NULLIF(?, ''), updated_at = ?
		WHERE path_id = ?
	`, newPath, drive, dir, name, ext, now, dstID)
	if err != nil {
		return nil, fmt.Errorf("failed to update merged path %s: %w", dstID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("merge destination path row missing: %s", dstID)
	}
	if _, err := q.Exec("DELETE FROM paths WHERE path_id = ?", srcID); err != nil {
		return nil, fmt.Errorf("failed to delete merged path %s: %w", srcID, err)
	}

	return counts, nil
}

// mergeObservations repoints the source's observations; where the
// destination already has a row for the same run, the source's values
// overwrite it
func (s *Store) mergeObservations(q Querier, srcID, dstID string) (int, error) {
	var total int
	if err := q.QueryRow("SELECT COUNT(*) FROM observations WHERE path_id = ?", srcID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count observations for merge: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	_, err := q.Exec(`
		UPDATE observations SET
			size_bytes = src.size_bytes,
			mtime_utc = src.mtime_utc,
			type = src.type,
			name_flags = src.name_flags
		FROM observations AS src
		WHERE src.path_id = ? AND observations.path_id = ? AND observations.run_id = src.run_id
	`, srcID, dstID)
	if err != nil {
		return 0, fmt.Errorf("failed to overwrite colliding observations: %w", err)
	}

	_, err = q.Exec(`
		UPDATE observations SET path_id = ?
		WHERE path_id = ? AND run_id NOT IN (SELECT run_id FROM observations WHERE path_id = ?)
	`, dstID, srcID, dstID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint observations: %w", err)
	}

	if _, err := q.Exec("DELETE FROM observations WHERE path_id = ?", srcID); err != nil {
		return 0, fmt.Errorf("failed to delete merged observations: %w", err)
	}
	return total, nil
}

// mergeMetadata leaves at most one metadata row, attached to dstID. With
// rows on both sides the human-reviewed one wins, then the newer one, then
// the destination's.
func (s *Store) mergeMetadata(q Querier, srcID, dstID string) (int, error) {
	srcMD, err := s.GetPathMetadata(q, srcID)
	if err != nil {
		return 0, err
	}
	if srcMD == nil {
		return 0, nil
	}
	dstMD, err := s.GetPathMetadata(q, dstID)
	if err != nil {
		return 0, err
	}

	srcWins := true
	if dstMD != nil {
		switch {
		case srcMD.HumanReviewed != dstMD.HumanReviewed:
			srcWins = srcMD.HumanReviewed
		default:
			srcWins = srcMD.UpdatedAt > dstMD.UpdatedAt
		}
	}

	if srcWins {
		reviewed := 0
		if srcMD.HumanReviewed {
			reviewed = 1
		}
		_, err = q.Exec(`
			INSERT INTO path_metadata (path_id, source, data_json, human_reviewed, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path_id) DO UPDATE SET
				source = excluded.source,
				data_json = excluded.data_json,
				human_reviewed = excluded.human_reviewed,
				updated_at = excluded.updated_at
		`, dstID, srcMD.Source, srcMD.DataJSON, reviewed, srcMD.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to move metadata to %s: %w", dstID, err)
		}
	}

	if _, err := q.Exec("DELETE FROM path_metadata WHERE path_id = ?", srcID); err != nil {
		return 0, fmt.Errorf("failed to delete merged metadata: %w", err)
	}
	return 1, nil
}

// mergeFilePaths repoints file links. A link existing on both sides keeps
// is_current if either side had it, any first-seen reference available, and
// the more recently started last-seen run.
func (s *Store) mergeFilePaths(q Querier, srcID, dstID string) (int, error) {
	srcLinks, err := s.FilePathsByPath(q, srcID)
	if err != nil {
		return 0, err
	}

	for _, link := range srcLinks {
		existing, err := s.GetFilePath(q, link.FileID, dstID)
		if err != nil {
			return 0, err
		}
		if existing == nil {
			_, err = q.Exec("UPDATE file_paths SET path_id = ? WHERE file_id = ? AND path_id = ?",
				dstID, link.FileID, srcID)
			if err != nil {
				return 0, fmt.Errorf("failed to repoint file link: %w", err)
			}
			continue
		}

		current := 0
		if link.IsCurrent || existing.IsCurrent {
			current = 1
		}
		firstSeen := existing.FirstSeenRunID
		if firstSeen == "" {
			firstSeen = link.FirstSeenRunID
		}
		lastSeen, err := s.laterRun(q, existing.LastSeenRunID, link.LastSeenRunID)
		if err != nil {
			return 0, err
		}

		_, err = q.Exec(`
			UPDATE file_paths SET is_current = ?, first_seen_run_id = NULLIF(?, ''), last_seen_run_id = NULLIF(?, '')
			WHERE file_id = ? AND path_id = ?
		`, current, firstSeen, lastSeen, link.FileID, dstID)
		if err != nil {
			return 0, fmt.Errorf("failed to merge file link: %w", err)
		}
		_, err = q.Exec("DELETE FROM file_paths WHERE file_id = ? AND path_id = ?", link.FileID, srcID)
		if err != nil {
			return 0, fmt.Errorf("failed to delete merged file link: %w", err)
		}
	}
	return len(srcLinks), nil
}

// laterRun picks whichever run started more recently; an empty id loses
func (s *Store) laterRun(q Querier, a, b string) (string, error) {
	if a == "" {
		return b, nil
	}
	if b == "" || a == b {
		return a, nil
	}
	var later string
	err := q.QueryRow(`
		SELECT run_id FROM runs WHERE run_id IN (?, ?) ORDER BY started_at DESC LIMIT 1
	`, a, b).Scan(&later)
	if err != nil {
		return "", fmt.Errorf("failed to order runs %s, %s: %w", a, b, err)
	}
	return later, nil
}

// mergePathTags repoints tag links, keeping the most recent updated_at when
// the same (tag, source) exists on both sides
func (s *Store) mergePathTags(q Querier, srcID, dstID string) (int, error) {
	var total int
	if err := q.QueryRow("SELECT COUNT(*) FROM path_tags WHERE path_id = ?", srcID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count path tags for merge: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	_, err := q.Exec(`
		UPDATE path_tags SET updated_at = src.updated_at
		FROM path_tags AS src
		WHERE src.path_id = ? AND path_tags.path_id = ?
		  AND path_tags.tag_id = src.tag_id AND path_tags.source = src.source
		  AND src.updated_at > path_tags.updated_at
	`, srcID, dstID)
	if err != nil {
		return 0, fmt.Errorf("failed to merge colliding path tags: %w", err)
	}

	_, err = q.Exec(`
		UPDATE path_tags SET path_id = ?
		WHERE path_id = ? AND NOT EXISTS (
			SELECT 1 FROM path_tags d
			WHERE d.path_id = ? AND d.tag_id = path_tags.tag_id AND d.source = path_tags.source
		)
	`, dstID, srcID, dstID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint path tags: %w", err)
	}

	if _, err := q.Exec("DELETE FROM path_tags WHERE path_id = ?", srcID); err != nil {
		return 0, fmt.Errorf("failed to delete merged path tags: %w", err)
	}
	return total, nil
}

// repointEvents rewrites historical event references so the audit trail
// stays queryable under the surviving id. Events themselves are never
// deleted.
func (s *Store) repointEvents(q Querier, srcID, dstID string) (int, error) {
	res1, err := q.Exec("UPDATE events SET src_path_id = ? WHERE src_path_id = ?", dstID, srcID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint event sources: %w", err)
	}
	res2, err := q.Exec("UPDATE events SET dst_path_id = ? WHERE dst_path_id = ?", dstID, srcID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint event destinations: %w", err)
	}
	n1, _ := res1.RowsAffected()
	n2, _ := res2.RowsAffected()
	return int(n1 + n2), nil
}
