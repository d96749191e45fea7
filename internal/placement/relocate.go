package placement

import (
	"fmt"

	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/scan"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
)

// PlanRow is one relocate plan artifact line
type PlanRow struct {
	PathID              string `json:"path_id,omitempty"`
	Src                 string `json:"src"`
	Dst                 string `json:"dst,omitempty"`
	Status              string `json:"status"`
	Reason              string `json:"reason,omitempty"`
	MetadataSource      string `json:"metadata_source,omitempty"`
	AutoRegisterOnApply bool   `json:"auto_register_on_apply,omitempty"`
	ProgramTitle        string `json:"program_title,omitempty"`
	AirDate             string `json:"air_date,omitempty"`
	TS                  string `json:"ts"`
}

// MoveRow is one line of the internal move plan handed to the mover
type MoveRow struct {
	PathID string `json:"path_id"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
}

// QueueRow is one metadata queue candidate
type QueueRow struct {
	PathID   string `json:"path_id"`
	Path     string `json:"path"`
	Name     string `json:"name"`
	MtimeUTC string `json:"mtime_utc"`
}

// PreregRow is a scanned-but-unregistered path to auto-register before apply
type PreregRow struct {
	PathID    string
	Path      string
	Drive     string
	Dir       string
	Name      string
	Ext       string
	SizeBytes int64
	MtimeUTC  string
}

// Planner builds relocate plans from scan results and stored metadata
type Planner struct {
	store                *store.Store
	namer                *identity.Namer
	destRoot             string
	allowNeedsReview     bool
	queueMissingMetadata bool
	apply                bool
}

// PlannerConfig holds relocate planner configuration
type PlannerConfig struct {
	Store                *store.Store
	Namer                *identity.Namer
	DestRoot             string // native form, e.g. V:\TV
	AllowNeedsReview     bool
	QueueMissingMetadata bool
	Apply                bool
}

// NewPlanner creates a relocate Planner
func NewPlanner(cfg *PlannerConfig) *Planner {
	namer := cfg.Namer
	if namer == nil {
		namer = identity.Default()
	}
	return &Planner{
		store:                cfg.Store,
		namer:                namer,
		destRoot:             identity.CanonicalizeWindowsPath(cfg.DestRoot),
		allowNeedsReview:     cfg.AllowNeedsReview,
		queueMissingMetadata: cfg.QueueMissingMetadata,
		apply:                cfg.Apply,
	}
}

// Plan is the outcome of one relocate planning pass
type Plan struct {
	Rows    []*PlanRow
	Moves   []*MoveRow
	Prereg  []*PreregRow
	Queue   []*QueueRow
	Reasons map[[3]string]string // (path_id, src, dst) -> plan reason

	RegisteredFiles        int
	PlannedMoves           int
	AlreadyCorrect         int
	UnregisteredSkipped    int
	MetadataMissingSkipped int
	InvalidContractSkipped int
	NeedsReviewSkipped     int
	CorruptCandidates      int
}

// Build walks the scanned files and decides, per file, whether it moves,
// stays, or is skipped with a reason
func (p *Planner) Build(files []*scan.ScannedFile) (*Plan, error) {
	plan := &Plan{Reasons: make(map[[3]string]string)}

	for _, sf := range files {
		ts := store.NowISO()

		if sf.Corrupt {
			plan.CorruptCandidates++
			plan.Rows = append(plan.Rows, &PlanRow{
				Src:    sf.WinPath,
				Status: "error",
				Reason: fmt.Sprintf("corrupt_candidate:%s", sf.CorruptReason),
				TS:     ts,
			})
			continue
		}

		pathRow, err := p.store.GetPathByString(p.store.DB(), sf.WinPath)
		if err != nil {
			return nil, err
		}
		if pathRow == nil {
			plan.UnregisteredSkipped++
			plan.Rows = append(plan.Rows, &PlanRow{
				Src:                 sf.WinPath,
				Status:              "skipped",
				Reason:              ReasonUnregistered,
				AutoRegisterOnApply: p.apply,
				TS:                  ts,
			})
			if p.apply {
				pid := p.namer.PathID(sf.WinPath)
				plan.Prereg = append(plan.Prereg, &PreregRow{
					PathID:    pid,
					Path:      sf.WinPath,
					Drive:     sf.Drive,
					Dir:       sf.Dir,
					Name:      sf.Name,
					Ext:       sf.Ext,
					SizeBytes: sf.SizeBytes,
					MtimeUTC:  sf.MtimeUTC,
				})
				p.queue(plan, pid, sf)
			}
			continue
		}

		plan.RegisteredFiles++
		md, err := p.store.GetPathMetadata(p.store.DB(), pathRow.PathID)
		if err != nil {
			return nil, err
		}
		if md == nil {
			plan.MetadataMissingSkipped++
			plan.Rows = append(plan.Rows, &PlanRow{
				PathID: pathRow.PathID,
				Src:    sf.WinPath,
				Status: "skipped",
				Reason: ReasonMissingMetadata,
				TS:     ts,
			})
			p.queue(plan, pathRow.PathID, sf)
			continue
		}

		contract, valid := ParseContract(md.DataJSON)
		if !valid {
			plan.InvalidContractSkipped++
			plan.Rows = append(plan.Rows, &PlanRow{
				PathID:         pathRow.PathID,
				Src:            sf.WinPath,
				Status:         "skipped",
				Reason:         ReasonInvalidContract,
				MetadataSource: md.Source,
				TS:             ts,
			})
			p.queue(plan, pathRow.PathID, sf)
			continue
		}

		if contract.NeedsReview && !p.allowNeedsReview {
			plan.NeedsReviewSkipped++
			plan.Rows = append(plan.Rows, &PlanRow{
				PathID:         pathRow.PathID,
				Src:            sf.WinPath,
				Status:         "skipped",
				Reason:         ReasonNeedsReview,
				MetadataSource: md.Source,
				TS:             ts,
			})
			p.queue(plan, pathRow.PathID, sf)
			continue
		}

		dst, reason := BuildExpectedDestPath(p.destRoot, sf.WinPath, contract)
		if reason != "" {
			plan.InvalidContractSkipped++
			plan.Rows = append(plan.Rows, &PlanRow{
				PathID:         pathRow.PathID,
				Src:            sf.WinPath,
				Status:         "skipped",
				Reason:         reason,
				MetadataSource: md.Source,
				TS:             ts,
			})
			if NeedsQueue(contract, valid) {
				p.queue(plan, pathRow.PathID, sf)
			}
			continue
		}

		dst = identity.CanonicalizeWindowsPath(dst)
		if sf.WinPath == dst {
			plan.AlreadyCorrect++
			plan.Rows = append(plan.Rows, &PlanRow{
				PathID:       pathRow.PathID,
				Src:          sf.WinPath,
				Dst:          dst,
				Status:       "skipped",
				Reason:       ReasonAlreadyCorrect,
				ProgramTitle: contract.ProgramTitle,
				AirDate:      contract.AirDate,
				TS:           ts,
			})
			continue
		}

		plan.PlannedMoves++
		plan.Rows = append(plan.Rows, &PlanRow{
			PathID:       pathRow.PathID,
			Src:          sf.WinPath,
			Dst:          dst,
			Status:       "planned",
			Reason:       ReasonRecompute,
			ProgramTitle: contract.ProgramTitle,
			AirDate:      contract.AirDate,
			TS:           ts,
		})
		plan.Moves = append(plan.Moves, &MoveRow{PathID: pathRow.PathID, Src: sf.WinPath, Dst: dst})
		plan.Reasons[[3]string{pathRow.PathID, sf.WinPath, dst}] = ReasonRecompute
	}

	return plan, nil
}

func (p *Planner) queue(plan *Plan, pathID string, sf *scan.ScannedFile) {
	if !p.queueMissingMetadata {
		return
	}
	plan.Queue = append(plan.Queue, &QueueRow{
		PathID:   pathID,
		Path:     sf.WinPath,
		Name:     sf.Name,
		MtimeUTC: sf.MtimeUTC,
	})
}

// PreregResult counts what auto-registration wrote
type PreregResult struct {
	RunID        string
	Paths        int
	Observations int
}

// Preregister registers scanned-but-unknown paths under a preregister run so
// the apply step has path rows to update. One transaction for the whole set.
func (p *Planner) Preregister(rows []*PreregRow, toolVersion string) (*PreregResult, error) {
	result := &PreregResult{}
	if len(rows) == 0 {
		return result, nil
	}

	err := p.store.Transaction(func(q store.Querier) error {
		runID, err := p.store.BeginRun(q, store.RunKindPreregister, p.destRoot, toolVersion,
			fmt.Sprintf("autoreg=%d", len(rows)))
		if err != nil {
			return err
		}
		result.RunID = runID

		for _, r := range rows {
			if err := p.store.UpsertPath(q, &store.Path{
				PathID: r.PathID,
				Path:   r.Path,
				Drive:  r.Drive,
				Dir:    r.Dir,
				Name:   r.Name,
				Ext:    r.Ext,
			}); err != nil {
				return err
			}
			result.Paths++

			if err := p.store.UpsertObservation(q, &store.Observation{
				RunID:     runID,
				PathID:    r.PathID,
				SizeBytes: r.SizeBytes,
				MtimeUTC:  r.MtimeUTC,
				Type:      "file",
			}); err != nil {
				return err
			}
			result.Observations++

			if err := p.store.AppendEvent(q, &store.Event{
				RunID:     runID,
				Kind:      store.EventRelocateRegister,
				SrcPathID: r.PathID,
				Detail:    map[string]any{"path": r.Path, "op": "register_missing_path_for_relocate"},
				OK:        true,
			}); err != nil {
				return err
			}
		}

		return p.store.FinishRun(q, runID)
	})
	if err != nil {
		return nil, fmt.Errorf("relocate auto-register failed: %w", err)
	}

	util.InfoLog("Auto-registered %d paths under run %s", result.Paths, result.RunID)
	return result, nil
}
