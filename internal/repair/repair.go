// Package repair re-derives the descriptive path columns (drive, dir, name,
// ext) from the path string for rows where they have drifted apart.
package repair

import (
	"fmt"

	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
)

// FieldFix records one drifted column on a path row
type FieldFix struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Row is one repair plan artifact line
type Row struct {
	PathID string     `json:"path_id"`
	Path   string     `json:"path"`
	Fixes  []FieldFix `json:"fixes"`
	TS     string     `json:"ts"`
}

// Result counts a repair pass
type Result struct {
	RunID    string
	Checked  int
	Drifted  int
	Repaired int
	Rows     []*Row
}

// Scan compares every path row's stored columns against the ones its path
// string splits into and reports the drifted rows. Nothing is written.
func Scan(s *store.Store) (*Result, error) {
	paths, err := s.AllPaths()
	if err != nil {
		return nil, err
	}

	result := &Result{Checked: len(paths)}
	for _, p := range paths {
		drive, dir, name, ext := identity.SplitWindows(p.Path)
		var fixes []FieldFix
		for _, f := range []FieldFix{
			{Field: "drive", Old: p.Drive, New: drive},
			{Field: "dir", Old: p.Dir, New: dir},
			{Field: "name", Old: p.Name, New: name},
			{Field: "ext", Old: p.Ext, New: ext},
		} {
			if f.Old != f.New {
				fixes = append(fixes, f)
			}
		}
		if len(fixes) == 0 {
			continue
		}
		result.Drifted++
		result.Rows = append(result.Rows, &Row{
			PathID: p.PathID,
			Path:   p.Path,
			Fixes:  fixes,
			TS:     store.NowISO(),
		})
	}

	util.InfoLog("Repair scan: %d rows checked, %d drifted", result.Checked, result.Drifted)
	return result, nil
}

// Apply rewrites the drifted rows in one transaction under a repair run,
// appending one event per repaired row
func Apply(s *store.Store, result *Result, toolVersion string) error {
	if result.Drifted == 0 {
		return nil
	}

	err := s.Transaction(func(q store.Querier) error {
		runID, err := s.BeginRun(q, store.RunKindRepair, "", toolVersion,
			fmt.Sprintf("drifted=%d", result.Drifted))
		if err != nil {
			return err
		}
		result.RunID = runID

		for _, row := range result.Rows {
			drive, dir, name, ext := identity.SplitWindows(row.Path)
			if err := s.UpdatePathLocation(q, row.PathID, row.Path, drive, dir, name, ext); err != nil {
				return err
			}
			fixes := make([]map[string]any, 0, len(row.Fixes))
			for _, f := range row.Fixes {
				fixes = append(fixes, map[string]any{"field": f.Field, "old": f.Old, "new": f.New})
			}
			if err := s.AppendEvent(q, &store.Event{
				RunID:     runID,
				Kind:      store.EventPathRepair,
				SrcPathID: row.PathID,
				Detail:    map[string]any{"path": row.Path, "fixes": fixes},
				OK:        true,
			}); err != nil {
				return err
			}
			result.Repaired++
		}

		return s.FinishRun(q, runID)
	})
	if err != nil {
		return fmt.Errorf("repair apply failed: %w", err)
	}

	util.SuccessLog("Repair apply: run=%s rows=%d", result.RunID, result.Repaired)
	return nil
}
