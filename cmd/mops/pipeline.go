package main

import (
	"context"
	"fmt"

	"github.com/franz/mediaops/internal/backfill"
	"github.com/franz/mediaops/internal/placement"
	"github.com/franz/mediaops/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run backfill and relocate planning over one scan pass",
	Long: `Scan the given roots once, reconcile the store (backfill: drive remaps,
renames, fresh registrations), then plan canonical-layout moves (relocate)
from the same scan. One summary covers both phases.

Without --apply both phases only write plan artifacts. With --apply the
backfill plan is committed and unregistered files are preregistered; the
final move plan still goes to the external mover, whose outcomes are
recorded with 'mops apply'.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(pipelineCmd)

	pipelineCmd.Flags().StringSlice("root", nil, "scan root (repeatable)")
	pipelineCmd.Flags().String("roots-file", "", "YAML file listing scan roots")
	pipelineCmd.Flags().StringToString("drive-map", nil, "old drive to new drive mapping, e.g. D:=E:")
	pipelineCmd.Flags().String("dest-root", "", "destination library root (native form, e.g. V:\\TV)")
	pipelineCmd.Flags().Bool("include-observations", true, "record an observation per applied backfill row")
	pipelineCmd.Flags().Bool("allow-needs-review", false, "plan moves for metadata flagged needs_review")
	pipelineCmd.Flags().Bool("queue-missing-metadata", false, "emit a metadata queue artifact for skipped files")
	pipelineCmd.Flags().Bool("apply", false, "commit backfill and preregister before planning moves")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	flagRoots, _ := cmd.Flags().GetStringSlice("root")
	rootsPath, _ := cmd.Flags().GetString("roots-file")
	driveMap, _ := cmd.Flags().GetStringToString("drive-map")
	includeObs, _ := cmd.Flags().GetBool("include-observations")
	allowNeedsReview, _ := cmd.Flags().GetBool("allow-needs-review")
	queueMissing, _ := cmd.Flags().GetBool("queue-missing-metadata")
	apply, _ := cmd.Flags().GetBool("apply")

	destRoot, _ := cmd.Flags().GetString("dest-root")
	if destRoot == "" {
		destRoot = viper.GetString("dest-root")
	}
	if destRoot == "" {
		return fmt.Errorf("destination root is required (use --dest-root or set in config)")
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	summary := report.New("pipeline")

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
	summary.Count("scannedFiles", len(scanResult.Files))

	// Phase 1: reconcile the store so relocate sees every file registered
	bfPlanner := backfill.NewPlanner(&backfill.PlannerConfig{
		Store:               db,
		DriveMap:            driveMap,
		IncludeObservations: includeObs,
	})
	bfPlan, err := bfPlanner.Build(scanResult.Files)
	if err != nil {
		return summary.Fail(fmt.Sprintf("backfill plan failed: %v", err)).Emit()
	}

	bfPath := artifactPath("move", "backfill_plan")
	if err := writeRows(bfPath, "backfill_plan", map[string]any{
		"roots": roots,
		"apply": apply,
	}, bfPlan.Rows); err != nil {
		return summary.Fail(fmt.Sprintf("failed to write backfill plan: %v", err)).Emit()
	}
	summary.Artifact("backfillPlan", bfPath)

	summary.Count("backfillOps", len(bfPlan.Ops)).
		Count("remappedPaths", bfPlan.RemappedPaths).
		Count("renameDetected", bfPlan.RenameDetected).
		Count("corruptCandidates", bfPlan.CorruptCandidates).
		Count("skippedExisting", bfPlan.SkippedExisting)

	if apply && summary.OK {
		applied, err := bfPlanner.Apply(bfPlan, destRoot, Version)
		if err != nil {
			return summary.Fail(fmt.Sprintf("backfill apply failed: %v", err)).Emit()
		}
		summary.RunID = applied.RunID
		summary.Count("upsertedPaths", applied.UpsertedPaths).
			Count("upsertedObservations", applied.UpsertedObservations)
	}

	// Phase 2: placement over the same scan
	rlPlanner := placement.NewPlanner(&placement.PlannerConfig{
		Store:                db,
		DestRoot:             destRoot,
		AllowNeedsReview:     allowNeedsReview,
		QueueMissingMetadata: queueMissing,
		Apply:                apply,
	})
	rlPlan, err := rlPlanner.Build(scanResult.Files)
	if err != nil {
		return summary.Fail(fmt.Sprintf("relocate plan failed: %v", err)).Emit()
	}

	rlPath := artifactPath("move", "relocate_plan")
	if err := writeRows(rlPath, "relocate_plan", map[string]any{
		"roots":     roots,
		"dest_root": destRoot,
		"apply":     apply,
	}, rlPlan.Rows); err != nil {
		return summary.Fail(fmt.Sprintf("failed to write relocate plan: %v", err)).Emit()
	}
	summary.Artifact("relocatePlan", rlPath)

	summary.Count("plannedMoves", rlPlan.PlannedMoves).
		Count("alreadyCorrect", rlPlan.AlreadyCorrect).
		Count("metadataMissingSkipped", rlPlan.MetadataMissingSkipped).
		Count("invalidContractSkipped", rlPlan.InvalidContractSkipped).
		Count("needsReviewSkipped", rlPlan.NeedsReviewSkipped)

	if queueMissing && len(rlPlan.Queue) > 0 {
		queuePath := artifactPath("llm", "metadata_queue")
		if err := writeRows(queuePath, "metadata_queue", map[string]any{
			"origin": "pipeline",
		}, rlPlan.Queue); err != nil {
			return summary.Fail(fmt.Sprintf("failed to write queue artifact: %v", err)).Emit()
		}
		summary.Artifact("metadataQueue", queuePath)
		summary.Count("metadataQueue", len(rlPlan.Queue))
	}

	if len(rlPlan.Moves) > 0 {
		movePath := artifactPath("move", "move_plan")
		if err := writeRows(movePath, "move_plan", map[string]any{
			"dest_root": destRoot,
			"apply":     apply,
		}, rlPlan.Moves); err != nil {
			return summary.Fail(fmt.Sprintf("failed to write move plan: %v", err)).Emit()
		}
		summary.Artifact("movePlan", movePath)
	}

	if apply && summary.OK {
		prereg, err := rlPlanner.Preregister(rlPlan.Prereg, Version)
		if err != nil {
			return summary.Fail(fmt.Sprintf("auto-register failed: %v", err)).Emit()
		}
		summary.Count("autoRegistered", prereg.Paths)
	}

	return summary.Emit()
}
