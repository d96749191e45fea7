package main

import (
	"context"
	"fmt"

	"github.com/franz/mediaops/internal/backfill"
	"github.com/franz/mediaops/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Reconcile scanned files with the store after drive swaps or renames",
	Long: `Scan the given roots and decide, per file, how it relates to the store:
exact path match, drive remap via --drive-map, rename detection by unique
(name, size), or fresh registration. Corrupt candidates are skipped.

Without --apply only the plan artifact is written. With --apply the planned
path rows, observations and events are committed in one transaction.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringSlice("root", nil, "scan root (repeatable)")
	backfillCmd.Flags().String("roots-file", "", "YAML file listing scan roots")
	backfillCmd.Flags().StringToString("drive-map", nil, "old drive to new drive mapping, e.g. D:=E:")
	backfillCmd.Flags().Bool("include-observations", true, "record an observation per applied row")
	backfillCmd.Flags().Bool("queue-missing-metadata", false, "emit a metadata queue artifact for applied rows without usable metadata")
	backfillCmd.Flags().Bool("apply", false, "commit the plan to the store")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	flagRoots, _ := cmd.Flags().GetStringSlice("root")
	rootsPath, _ := cmd.Flags().GetString("roots-file")
	driveMap, _ := cmd.Flags().GetStringToString("drive-map")
	includeObs, _ := cmd.Flags().GetBool("include-observations")
	queueMissing, _ := cmd.Flags().GetBool("queue-missing-metadata")
	apply, _ := cmd.Flags().GetBool("apply")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	summary := report.New("backfill")

	roots, err := resolveRoots(flagRoots, rootsPath)
	if err != nil {
		return summary.Fail(err.Error()).Emit()
	}

	scanResult, batchErrors, err := runScan(ctx, roots)
	if err != nil {
		return summary.Fail(fmt.Sprintf("scan failed: %v", err)).Emit()
	}
	summary.Warn(scanResult.Warnings...)
	summary.Fail(batchErrors...)

	planner := backfill.NewPlanner(&backfill.PlannerConfig{
		Store:               db,
		DriveMap:            driveMap,
		IncludeObservations: includeObs,
	})

	plan, err := planner.Build(scanResult.Files)
	if err != nil {
		return summary.Fail(fmt.Sprintf("backfill plan failed: %v", err)).Emit()
	}

	planPath := artifactPath("move", "backfill_plan")
	if err := writeRows(planPath, "backfill_plan", map[string]any{
		"roots": roots,
		"apply": apply,
	}, plan.Rows); err != nil {
		return summary.Fail(fmt.Sprintf("failed to write plan artifact: %v", err)).Emit()
	}
	summary.Artifact("plan", planPath)

	summary.Count("scannedFiles", len(scanResult.Files)).
		Count("plannedOps", len(plan.Ops)).
		Count("remappedPaths", plan.RemappedPaths).
		Count("renameDetected", plan.RenameDetected).
		Count("corruptCandidates", plan.CorruptCandidates).
		Count("skippedExisting", plan.SkippedExisting).
		Count("missingInPaths", plan.MissingInPaths)

	// Policy escalation blocks the write phase, not the plan artifact
	if apply && summary.OK {
		applied, err := planner.Apply(plan, viper.GetString("dest-root"), Version)
		if err != nil {
			return summary.Fail(fmt.Sprintf("backfill apply failed: %v", err)).Emit()
		}
		summary.RunID = applied.RunID
		summary.Count("upsertedPaths", applied.UpsertedPaths).
			Count("upsertedObservations", applied.UpsertedObservations)
	}

	if queueMissing && summary.OK {
		queue, err := planner.BuildQueue(plan)
		if err != nil {
			return summary.Fail(fmt.Sprintf("metadata queue failed: %v", err)).Emit()
		}
		if len(queue) > 0 {
			queuePath := artifactPath("llm", "metadata_queue")
			if err := writeRows(queuePath, "metadata_queue", map[string]any{
				"origin": "backfill",
			}, queue); err != nil {
				return summary.Fail(fmt.Sprintf("failed to write queue artifact: %v", err)).Emit()
			}
			summary.Artifact("metadataQueue", queuePath)
		}
		summary.Count("metadataQueue", len(queue))
	}

	return summary.Emit()
}
