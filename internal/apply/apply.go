// Package apply commits mover outcomes back into the path store, including
// the collision merge that reconciles a move onto an already-tracked
// destination.
package apply

import (
	"fmt"

	"github.com/franz/mediaops/internal/artifact"
	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
)

// Outcome is one mover result line. Only op=="move" rows are considered.
type Outcome struct {
	Op     string `json:"op"`
	PathID string `json:"path_id"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	TS     string `json:"ts"`
}

// Row statuses reported per outcome
const (
	StatusUpdated        = "updated"
	StatusAlreadyApplied = "already_applied"
	StatusMerged         = "merged"
	StatusMissingSrc     = "missing_src_path_row"
	StatusMoveFailed     = "move_failed"
)

// Row is the engine's verdict on one outcome
type Row struct {
	PathID string `json:"path_id"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	TS     string `json:"ts"`
}

// Engine reconciles the store with moves the mover already performed
type Engine struct {
	store *store.Store
}

// Config holds engine configuration
type Config struct {
	Store *store.Store
}

// New creates an apply Engine
func New(cfg *Config) *Engine {
	return &Engine{store: cfg.Store}
}

// Result represents an apply batch result
type Result struct {
	RunID          string
	Rows           []*Row
	Updated        int
	AlreadyApplied int
	Merged         int
	MissingSrc     int
	FailedMoves    int
	Errors         []string
}

// ReadOutcomes loads a mover result artifact
func ReadOutcomes(path string) ([]*Outcome, error) {
	reader, err := artifact.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var outcomes []*Outcome
	for {
		o := &Outcome{}
		ok, err := reader.Next(o)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if o.Op != "move" {
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// Apply processes a batch of outcomes in one transaction under a fresh run
// of the given kind. Outcomes are handled in input order, which is also
// their order in the audit trail. A row-level inconsistency is recorded and
// the batch continues; a storage error rolls back the whole batch.
func (e *Engine) Apply(outcomes []*Outcome, runKind, targetRoot, toolVersion, notes string) (*Result, error) {
	result := &Result{}

	err := e.store.Transaction(func(q store.Querier) error {
		runID, err := e.store.BeginRun(q, runKind, targetRoot, toolVersion, notes)
		if err != nil {
			return err
		}
		result.RunID = runID

		for _, o := range outcomes {
			row, err := e.applyOne(q, runID, o)
			if err != nil {
				return err
			}
			result.Rows = append(result.Rows, row)
			switch row.Status {
			case StatusUpdated:
				result.Updated++
			case StatusAlreadyApplied:
				result.AlreadyApplied++
			case StatusMerged:
				result.Merged++
			case StatusMissingSrc:
				result.MissingSrc++
				result.Errors = append(result.Errors,
					fmt.Sprintf("missing src path row: path_id=%s dst=%s", o.PathID, row.Dst))
			case StatusMoveFailed:
				result.FailedMoves++
				result.Errors = append(result.Errors,
					fmt.Sprintf("move failed: %s -> %s :: %s", row.Src, row.Dst, row.Error))
			}
		}

		return e.store.FinishRun(q, runID)
	})
	if err != nil {
		return nil, fmt.Errorf("apply batch failed: %w", err)
	}

	util.SuccessLog("Apply: %d updated, %d merged, %d already applied, %d missing, %d failed",
		result.Updated, result.Merged, result.AlreadyApplied, result.MissingSrc, result.FailedMoves)
	return result, nil
}

// applyOne dispatches one outcome. Every outcome produces exactly one event
// row, whatever its fate.
func (e *Engine) applyOne(q store.Querier, runID string, o *Outcome) (*Row, error) {
	src := identity.CanonicalizeWindowsPath(o.Src)
	dst := identity.CanonicalizeWindowsPath(o.Dst)
	ts := o.TS
	if ts == "" {
		ts = store.NowISO()
	}
	row := &Row{PathID: o.PathID, Src: src, Dst: dst, TS: ts}

	// The mover says the physical move did not happen: record it, leave
	// identity alone.
	if !o.OK {
		row.Status = StatusMoveFailed
		row.Error = o.Error
		if row.Error == "" {
			row.Error = "move_failed"
		}
		return row, e.store.AppendEvent(q, &store.Event{
			RunID:     runID,
			TS:        ts,
			Kind:      store.EventMove,
			SrcPathID: o.PathID,
			Detail:    map[string]any{"src": src, "dst": dst},
			OK:        false,
			Error:     row.Error,
		})
	}

	srcRow, err := e.store.GetPathByID(q, o.PathID)
	if err != nil {
		return nil, err
	}
	dstRow, err := e.store.GetPathByString(q, dst)
	if err != nil {
		return nil, err
	}

	switch {
	case srcRow == nil && dstRow == nil:
		// Neither identity exists; nothing to reconcile against.
		row.Status = StatusMissingSrc
		row.Error = "missing_src_path_row"
		return row, e.store.AppendEvent(q, &store.Event{
			RunID:     runID,
			TS:        ts,
			Kind:      store.EventMove,
			SrcPathID: o.PathID,
			Detail:    map[string]any{"src": src, "dst": dst},
			OK:        false,
			Error:     "missing_src_path_row",
		})

	case srcRow == nil:
		// A prior run already completed this exact transition.
		row.Status = StatusAlreadyApplied
		return row, e.store.AppendEvent(q, &store.Event{
			RunID:     runID,
			TS:        ts,
			Kind:      store.EventMove,
			SrcPathID: dstRow.PathID,
			Detail:    map[string]any{"src": src, "dst": dst, "result": StatusAlreadyApplied},
			OK:        true,
		})

	case dstRow == nil || dstRow.PathID == srcRow.PathID:
		// The identity already sits at dst: a prior run committed this
		// transition, so replaying it must not touch the row again.
		if srcRow.Path == dst {
			row.Status = StatusAlreadyApplied
			return row, e.store.AppendEvent(q, &store.Event{
				RunID:     runID,
				TS:        ts,
				Kind:      store.EventMove,
				SrcPathID: srcRow.PathID,
				Detail:    map[string]any{"src": src, "dst": dst, "result": StatusAlreadyApplied},
				OK:        true,
			})
		}

		drive, dir, name, ext := identity.SplitWindows(dst)
		if err := e.store.UpdatePathLocation(q, srcRow.PathID, dst, drive, dir, name, ext); err != nil {
			return nil, err
		}
		row.Status = StatusUpdated
		return row, e.store.AppendEvent(q, &store.Event{
			RunID:     runID,
			TS:        ts,
			Kind:      store.EventMove,
			SrcPathID: srcRow.PathID,
			Detail:    map[string]any{"src": src, "dst": dst},
			OK:        true,
		})

	default:
		// The destination path string already belongs to a different
		// identity: merge the moved identity into it.
		drive, dir, name, ext := identity.SplitWindows(dst)
		counts, err := e.store.MergePaths(q, srcRow.PathID, dstRow.PathID, dst, drive, dir, name, ext)
		if err != nil {
			return nil, err
		}
		row.Status = StatusMerged
		return row, e.store.AppendEvent(q, &store.Event{
			RunID:     runID,
			TS:        ts,
			Kind:      store.EventMergedPaths,
			SrcPathID: srcRow.PathID,
			DstPathID: dstRow.PathID,
			Detail: map[string]any{
				"src":       src,
				"dst":       dst,
				"repointed": counts,
			},
			OK: true,
		})
	}
}
