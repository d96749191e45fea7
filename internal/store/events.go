package store

import (
	"encoding/json"
	"fmt"
)

// Event kinds appended by the pipeline
const (
	EventBackfillRegister = "backfill_register"
	EventBackfillRemap    = "backfill_remap"
	EventBackfillRename   = "backfill_rename_detected"
	EventRelocateRegister = "relocate_register"
	EventDedupMove        = "dedup_move"
	EventMove             = "move"
	EventMergedPaths      = "merged_into_existing_destination_path_row"
	EventPathRepair       = "path_components_repaired"
)

// Event is one append-only audit record. Rows are never updated or deleted;
// when paths merge, src/dst references are repointed to the surviving id so
// history stays queryable under it.
type Event struct {
	EventID   int64
	RunID     string
	TS        string
	Kind      string
	SrcPathID string
	DstPathID string
	Detail    map[string]any
	OK        bool
	Error     string
}

// AppendEvent writes one audit record. Detail is stored as JSON.
func (s *Store) AppendEvent(q Querier, e *Event) error {
	detailJSON := ""
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode event detail: %w", err)
		}
		detailJSON = string(b)
	}

	ts := e.TS
	if ts == "" {
		ts = NowISO()
	}
	ok := 0
	if e.OK {
		ok = 1
	}

	_, err := q.Exec(`
		INSERT INTO events (run_id, ts, kind, src_path_id, dst_path_id, detail_json, ok, error)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''))
	`, e.RunID, ts, e.Kind, e.SrcPathID, e.DstPathID, detailJSON, ok, e.Error)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// EventsForRun returns the events of one run in append order
func (s *Store) EventsForRun(runID string) ([]*Event, error) {
	rows, err := s.db.Query(`
		SELECT event_id, run_id, ts, kind, COALESCE(src_path_id, ''),
		       COALESCE(dst_path_id, ''), COALESCE(detail_json, ''), ok, COALESCE(error, '')
		FROM events WHERE run_id = ?
		ORDER BY event_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var detailJSON string
		var ok int
		if err := rows.Scan(&e.EventID, &e.RunID, &e.TS, &e.Kind, &e.SrcPathID, &e.DstPathID, &detailJSON, &ok, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OK = ok != 0
		if detailJSON != "" {
			// Detail is best-effort on read; a malformed payload still
			// returns the row.
			_ = json.Unmarshal([]byte(detailJSON), &e.Detail)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsForPath returns events referencing a path id as source or
// destination, oldest first
func (s *Store) EventsForPath(pathID string) ([]*Event, error) {
	rows, err := s.db.Query(`
		SELECT event_id, run_id, ts, kind, COALESCE(src_path_id, ''),
		       COALESCE(dst_path_id, ''), COALESCE(detail_json, ''), ok, COALESCE(error, '')
		FROM events WHERE src_path_id = ? OR dst_path_id = ?
		ORDER BY event_id
	`, pathID, pathID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var detailJSON string
		var ok int
		if err := rows.Scan(&e.EventID, &e.RunID, &e.TS, &e.Kind, &e.SrcPathID, &e.DstPathID, &detailJSON, &ok, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OK = ok != 0
		if detailJSON != "" {
			_ = json.Unmarshal([]byte(detailJSON), &e.Detail)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
