package main

import (
	"fmt"

	"github.com/franz/mediaops/internal/apply"
	"github.com/franz/mediaops/internal/report"
	"github.com/franz/mediaops/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Record mover outcomes into the store",
	Long: `Read a mover result JSONL and reconcile every outcome with the store:
successful moves update path rows, repeated applies are recognized as
already applied, and a move onto a path string already owned by another
identity triggers a collision merge of observations, metadata, links,
tags and events.

The whole batch is one transaction under a fresh run. Re-running the same
result file is safe.`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().String("applied", "", "mover result JSONL (required)")
	applyCmd.Flags().String("run-kind", store.RunKindApply, "run kind to record (apply or relocate)")
	applyCmd.Flags().String("target-root", "", "root the moves were made against (recorded on the run)")
	applyCmd.MarkFlagRequired("applied")
}

func runApply(cmd *cobra.Command, args []string) error {
	appliedPath, _ := cmd.Flags().GetString("applied")
	runKind, _ := cmd.Flags().GetString("run-kind")
	targetRoot, _ := cmd.Flags().GetString("target-root")

	if runKind != store.RunKindApply && runKind != store.RunKindRelocate {
		return fmt.Errorf("unsupported run kind: %q", runKind)
	}
	if targetRoot == "" {
		targetRoot = viper.GetString("dest-root")
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	summary := report.New("apply")

	outcomes, err := apply.ReadOutcomes(appliedPath)
	if err != nil {
		return summary.Fail(fmt.Sprintf("failed to read mover result: %v", err)).Emit()
	}

	engine := apply.New(&apply.Config{Store: db})
	result, err := engine.Apply(outcomes, runKind, targetRoot, Version,
		fmt.Sprintf("source=%s", appliedPath))
	if err != nil {
		return summary.Fail(fmt.Sprintf("apply failed: %v", err)).Emit()
	}

	summary.RunID = result.RunID
	summary.Count("outcomes", len(outcomes)).
		Count("updated", result.Updated).
		Count("merged", result.Merged).
		Count("alreadyApplied", result.AlreadyApplied).
		Count("missingSrcPathRows", result.MissingSrc).
		Count("failedMoves", result.FailedMoves)
	summary.Fail(result.Errors...)

	rowsPath := artifactPath("move", "apply_result")
	if err := writeRows(rowsPath, "apply_result", map[string]any{
		"run_id": result.RunID,
		"source": appliedPath,
	}, result.Rows); err != nil {
		return summary.Fail(fmt.Sprintf("failed to write apply artifact: %v", err)).Emit()
	}
	summary.Artifact("result", rowsPath)

	return summary.Emit()
}
