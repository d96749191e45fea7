package main

import (
	"fmt"

	"github.com/franz/mediaops/internal/repair"
	"github.com/franz/mediaops/internal/report"
	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-derive drifted drive/dir/name/ext columns from path strings",
	Long: `Check every tracked path row for descriptive columns (drive, dir, name,
ext) that no longer match what the path string splits into, as left behind
by older tool versions or manual edits.

Without --apply only the drift report artifact is written. With --apply the
drifted rows are rewritten in one transaction under a repair run.`,
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)

	repairCmd.Flags().Bool("apply", false, "rewrite the drifted rows")
}

func runRepair(cmd *cobra.Command, args []string) error {
	apply, _ := cmd.Flags().GetBool("apply")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	summary := report.New("repair")

	result, err := repair.Scan(db)
	if err != nil {
		return summary.Fail(fmt.Sprintf("repair scan failed: %v", err)).Emit()
	}

	if len(result.Rows) > 0 {
		planPath := artifactPath("move", "repair_plan")
		if err := writeRows(planPath, "repair_plan", map[string]any{
			"apply": apply,
		}, result.Rows); err != nil {
			return summary.Fail(fmt.Sprintf("failed to write repair artifact: %v", err)).Emit()
		}
		summary.Artifact("plan", planPath)
	}

	if apply {
		if err := repair.Apply(db, result, Version); err != nil {
			return summary.Fail(fmt.Sprintf("repair apply failed: %v", err)).Emit()
		}
		summary.RunID = result.RunID
	}

	summary.Count("checked", result.Checked).
		Count("drifted", result.Drifted).
		Count("repaired", result.Repaired)
	return summary.Emit()
}
