// Package backfill reconciles files found on disk against the path store:
// known paths are skipped, drive remaps and renames are matched to their
// existing identity, and the rest are registered fresh.
package backfill

import (
	"fmt"

	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/placement"
	"github.com/franz/mediaops/internal/scan"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
)

// Apply operations planned per file
const (
	OpObsOnly      = "obs_only"
	OpRemapUpdate  = "remap_update"
	OpRenameUpdate = "rename_update"
	OpInsert       = "insert_or_upsert"
)

// PlanRow is one backfill plan artifact line
type PlanRow struct {
	Path   string `json:"path"`
	PathID string `json:"path_id"`
	Status string `json:"status"` // planned, skipped, error, upserted
	Reason string `json:"reason"`
	TS     string `json:"ts"`
}

// ApplyOp is one pending write against the store
type ApplyOp struct {
	Op        string
	PathID    string
	Path      string
	OldPath   string
	Drive     string
	Dir       string
	Name      string
	Ext       string
	SizeBytes int64
	MtimeUTC  string
}

// Planner matches scanned files against the store
type Planner struct {
	store               *store.Store
	namer               *identity.Namer
	driveMap            map[string]string
	includeObservations bool
}

// PlannerConfig holds backfill planner configuration
type PlannerConfig struct {
	Store               *store.Store
	Namer               *identity.Namer
	DriveMap            map[string]string // old drive -> new drive
	IncludeObservations bool
}

// NewPlanner creates a backfill Planner
func NewPlanner(cfg *PlannerConfig) *Planner {
	namer := cfg.Namer
	if namer == nil {
		namer = identity.Default()
	}
	return &Planner{
		store:               cfg.Store,
		namer:               namer,
		driveMap:            identity.BuildDriveMap(cfg.DriveMap),
		includeObservations: cfg.IncludeObservations,
	}
}

// Plan is the outcome of one backfill planning pass
type Plan struct {
	Rows []*PlanRow
	Ops  []*ApplyOp

	RemappedPaths     int
	RenameDetected    int
	CorruptCandidates int
	SkippedExisting   int
	MissingInPaths    int
}

// Build decides, per scanned file, how it reconciles with the store.
// The order of checks matters: the corruption gate runs first so a damaged
// file never matches an existing identity, then exact path, drive remap,
// rename detection, and finally fresh registration.
func (p *Planner) Build(files []*scan.ScannedFile) (*Plan, error) {
	plan := &Plan{}
	invMap := identity.InvertDriveMap(p.driveMap)

	for _, sf := range files {
		if sf.Corrupt {
			plan.CorruptCandidates++
			plan.Rows = append(plan.Rows, &PlanRow{
				Path:   sf.WinPath,
				PathID: p.namer.PathID(sf.WinPath),
				Status: "error",
				Reason: fmt.Sprintf("corrupt_candidate:%s", sf.CorruptReason),
				TS:     store.NowISO(),
			})
			continue
		}

		existing, err := p.store.GetPathByString(p.store.DB(), sf.WinPath)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if p.includeObservations {
				has, err := p.store.HasObservation(existing.PathID)
				if err != nil {
					return nil, err
				}
				if !has {
					plan.Ops = append(plan.Ops, opFor(OpObsOnly, existing.PathID, sf, ""))
					plan.Rows = append(plan.Rows, &PlanRow{
						Path:   sf.WinPath,
						PathID: existing.PathID,
						Status: "planned",
						Reason: "missing_observation",
						TS:     store.NowISO(),
					})
					continue
				}
			}
			plan.SkippedExisting++
			continue
		}

		plan.MissingInPaths++

		// Drive remap: the same tail under the pre-migration drive letter
		// already has an identity, so keep it and update the location.
		if remapped, err := p.tryRemap(plan, sf, invMap); err != nil {
			return nil, err
		} else if remapped {
			continue
		}

		// Rename detection: exactly one stored path with this (name, size)
		// pair is treated as the same file under a new directory. Two or
		// more matches are ambiguous and left alone.
		candidates, err := p.store.FindRenameCandidates(sf.Name, sf.SizeBytes)
		if err != nil {
			return nil, err
		}
		switch {
		case len(candidates) == 1:
			plan.RenameDetected++
			plan.Ops = append(plan.Ops, opFor(OpRenameUpdate, candidates[0].PathID, sf, candidates[0].Path))
			plan.Rows = append(plan.Rows, &PlanRow{
				Path:   sf.WinPath,
				PathID: candidates[0].PathID,
				Status: "planned",
				Reason: "rename_detected",
				TS:     store.NowISO(),
			})
			continue
		case len(candidates) > 1:
			plan.Rows = append(plan.Rows, &PlanRow{
				Path:   sf.WinPath,
				PathID: p.namer.PathID(sf.WinPath),
				Status: "skipped",
				Reason: "rename_ambiguous",
				TS:     store.NowISO(),
			})
			continue
		}

		pid := p.namer.PathID(sf.WinPath)
		plan.Ops = append(plan.Ops, opFor(OpInsert, pid, sf, ""))
		plan.Rows = append(plan.Rows, &PlanRow{
			Path:   sf.WinPath,
			PathID: pid,
			Status: "planned",
			Reason: "missing_path",
			TS:     store.NowISO(),
		})
	}

	util.InfoLog("Backfill plan: %d missing, %d remapped, %d renames, %d skipped, %d corrupt",
		plan.MissingInPaths, plan.RemappedPaths, plan.RenameDetected, plan.SkippedExisting, plan.CorruptCandidates)
	return plan, nil
}

func (p *Planner) tryRemap(plan *Plan, sf *scan.ScannedFile, invMap map[string]string) (bool, error) {
	if len(p.driveMap) == 0 || len(sf.WinPath) < 3 || sf.WinPath[1] != ':' {
		return false, nil
	}
	oldDrive, ok := invMap[identity.DriveOf(sf.WinPath)]
	if !ok {
		return false, nil
	}
	oldPath := oldDrive + sf.WinPath[2:]
	oldRow, err := p.store.GetPathByString(p.store.DB(), oldPath)
	if err != nil {
		return false, err
	}
	if oldRow == nil {
		return false, nil
	}

	conflict, err := p.store.GetPathByString(p.store.DB(), sf.WinPath)
	if err != nil {
		return false, err
	}
	if conflict != nil && conflict.PathID != oldRow.PathID {
		plan.Rows = append(plan.Rows, &PlanRow{
			Path:   sf.WinPath,
			PathID: oldRow.PathID,
			Status: "skipped",
			Reason: "conflict_skip",
			TS:     store.NowISO(),
		})
		return true, nil
	}

	plan.RemappedPaths++
	plan.Ops = append(plan.Ops, opFor(OpRemapUpdate, oldRow.PathID, sf, oldPath))
	plan.Rows = append(plan.Rows, &PlanRow{
		Path:   sf.WinPath,
		PathID: oldRow.PathID,
		Status: "remapped",
		Reason: "drive_map",
		TS:     store.NowISO(),
	})
	return true, nil
}

func opFor(op, pathID string, sf *scan.ScannedFile, oldPath string) *ApplyOp {
	return &ApplyOp{
		Op:        op,
		PathID:    pathID,
		Path:      sf.WinPath,
		OldPath:   oldPath,
		Drive:     sf.Drive,
		Dir:       sf.Dir,
		Name:      sf.Name,
		Ext:       sf.Ext,
		SizeBytes: sf.SizeBytes,
		MtimeUTC:  sf.MtimeUTC,
	}
}

// ApplyResult counts what a backfill apply wrote
type ApplyResult struct {
	RunID                string
	UpsertedPaths        int
	UpsertedObservations int
}

// Apply commits the planned operations under a backfill run. All rows go in
// one transaction; an error rolls back everything and leaves the run open.
func (p *Planner) Apply(plan *Plan, destRoot, toolVersion string) (*ApplyResult, error) {
	result := &ApplyResult{}

	err := p.store.Transaction(func(q store.Querier) error {
		runID, err := p.store.BeginRun(q, store.RunKindBackfill, destRoot, toolVersion,
			fmt.Sprintf("ops=%d", len(plan.Ops)))
		if err != nil {
			return err
		}
		result.RunID = runID

		for _, op := range plan.Ops {
			if err := p.store.UpsertPath(q, &store.Path{
				PathID: op.PathID,
				Path:   op.Path,
				Drive:  op.Drive,
				Dir:    op.Dir,
				Name:   op.Name,
				Ext:    op.Ext,
			}); err != nil {
				return err
			}
			result.UpsertedPaths++

			if p.includeObservations {
				if err := p.store.UpsertObservation(q, &store.Observation{
					RunID:     runID,
					PathID:    op.PathID,
					SizeBytes: op.SizeBytes,
					MtimeUTC:  op.MtimeUTC,
					Type:      op.Ext,
				}); err != nil {
					return err
				}
				result.UpsertedObservations++
			}

			kind := store.EventBackfillRegister
			detail := map[string]any{"path": op.Path, "op": op.Op}
			switch op.Op {
			case OpRemapUpdate:
				kind = store.EventBackfillRemap
				detail["old_path"] = op.OldPath
				detail["new_path"] = op.Path
			case OpRenameUpdate:
				kind = store.EventBackfillRename
				detail["old_path"] = op.OldPath
				detail["new_path"] = op.Path
			}

			if err := p.store.AppendEvent(q, &store.Event{
				RunID:     runID,
				Kind:      kind,
				SrcPathID: op.PathID,
				Detail:    detail,
				OK:        true,
			}); err != nil {
				return err
			}
		}

		return p.store.FinishRun(q, runID)
	})
	if err != nil {
		return nil, fmt.Errorf("backfill apply failed: %w", err)
	}

	util.SuccessLog("Backfill apply: run=%s paths=%d observations=%d",
		result.RunID, result.UpsertedPaths, result.UpsertedObservations)
	return result, nil
}

// QueueRow is one metadata queue candidate
type QueueRow struct {
	PathID   string `json:"path_id"`
	Path     string `json:"path"`
	Name     string `json:"name"`
	MtimeUTC string `json:"mtime_utc"`
}

// BuildQueue selects the planned rows whose stored metadata is missing,
// invalid or flagged for review, for handoff to the metadata collaborator
func (p *Planner) BuildQueue(plan *Plan) ([]*QueueRow, error) {
	var queue []*QueueRow
	for _, op := range plan.Ops {
		md, err := p.store.GetPathMetadata(p.store.DB(), op.PathID)
		if err != nil {
			return nil, err
		}
		needsQueue := true
		if md != nil && md.Source == store.SourceLLM {
			contract, valid := placement.ParseContract(md.DataJSON)
			needsQueue = placement.NeedsQueue(contract, valid)
		}
		if needsQueue {
			queue = append(queue, &QueueRow{
				PathID:   op.PathID,
				Path:     op.Path,
				Name:     op.Name,
				MtimeUTC: op.MtimeUTC,
			})
		}
	}
	return queue, nil
}
