package dedup

import (
	"fmt"

	"github.com/franz/mediaops/internal/artifact"
	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
)

// MoveOutcome is one mover result line for a quarantine move
type MoveOutcome struct {
	Op     string `json:"op"`
	PathID string `json:"path_id"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	TS     string `json:"ts"`
}

// ApplyRow is one dedup apply artifact line
type ApplyRow struct {
	GroupKey string `json:"group_key,omitempty"`
	PathID   string `json:"path_id,omitempty"`
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	TS       string `json:"ts"`
}

// ApplyResult counts what a dedup apply changed
type ApplyResult struct {
	RunID      string
	FilesMoved int
	Rows       []*ApplyRow
	Errors     []string
}

// ApplyMoves records the mover's quarantine outcomes into the store: each
// successful move updates the path row and appends a dedup_move event, each
// failure appends a failed event only. One transaction for the whole batch.
func (p *Planner) ApplyMoves(resultPath, quarantineRoot, toolVersion string, drops []*PlanRow) (*ApplyResult, error) {
	reader, err := artifact.Open(resultPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	dropByPathID := make(map[string]*PlanRow, len(drops))
	for _, d := range drops {
		if d.PathID != "" {
			dropByPathID[d.PathID] = d
		}
	}

	result := &ApplyResult{}

	err = p.store.Transaction(func(q store.Querier) error {
		runID, err := p.store.BeginRun(q, store.RunKindDedup, quarantineRoot, toolVersion,
			fmt.Sprintf("drops=%d", len(drops)))
		if err != nil {
			return err
		}
		result.RunID = runID

		var rec MoveOutcome
		for {
			ok, err := reader.Next(&rec)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if rec.Op != "move" {
				continue
			}

			src := identity.CanonicalizeWindowsPath(rec.Src)
			dst := identity.CanonicalizeWindowsPath(rec.Dst)
			groupKey := ""
			if d := dropByPathID[rec.PathID]; d != nil {
				groupKey = d.GroupKey
			}
			detail := map[string]any{"src": src, "dst": dst, "group_key": groupKey}

			row := &ApplyRow{
				GroupKey: groupKey,
				PathID:   rec.PathID,
				Src:      src,
				Dst:      dst,
				OK:       rec.OK,
				TS:       rec.TS,
			}
			if row.TS == "" {
				row.TS = store.NowISO()
			}

			if rec.OK && rec.PathID != "" && dst != "" {
				drive, dir, name, ext := identity.SplitWindows(dst)
				if err := p.store.UpdatePathLocation(q, rec.PathID, dst, drive, dir, name, ext); err != nil {
					return err
				}
				if err := p.store.AppendEvent(q, &store.Event{
					RunID:     runID,
					Kind:      store.EventDedupMove,
					SrcPathID: rec.PathID,
					Detail:    detail,
					OK:        true,
				}); err != nil {
					return err
				}
				result.FilesMoved++
			} else {
				errText := rec.Error
				if errText == "" {
					errText = "move_failed"
				}
				row.Error = errText
				if src != "" || dst != "" || rec.PathID != "" {
					result.Errors = append(result.Errors,
						fmt.Sprintf("move failed: %s -> %s :: %s", orEmpty(src), orEmpty(dst), errText))
				}
				if rec.PathID != "" {
					if err := p.store.AppendEvent(q, &store.Event{
						RunID:     runID,
						Kind:      store.EventDedupMove,
						SrcPathID: rec.PathID,
						Detail:    detail,
						OK:        false,
						Error:     errText,
					}); err != nil {
						return err
					}
				}
			}

			result.Rows = append(result.Rows, row)
			rec = MoveOutcome{}
		}

		return p.store.FinishRun(q, runID)
	})
	if err != nil {
		return nil, fmt.Errorf("dedup apply failed: %w", err)
	}

	util.SuccessLog("Dedup apply: %d files quarantined, %d failures", result.FilesMoved, len(result.Errors))
	return result, nil
}

func orEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}
