package main

import (
	"context"
	"fmt"

	"github.com/franz/mediaops/internal/placement"
	"github.com/franz/mediaops/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var relocateCmd = &cobra.Command{
	Use:   "relocate",
	Short: "Plan moves into the canonical <title>/<year>/<month> layout",
	Long: `Scan the given roots and plan, per registered file with valid metadata,
its canonical destination under --dest-root. Files without usable metadata
are skipped with a reason and can be queued for the metadata collaborator.

Without --apply only plan artifacts are written. With --apply unregistered
scanned files are auto-registered first, then the internal move plan is
handed to the mover; record its outcomes with 'mops apply --run-kind relocate'.`,
	RunE: runRelocate,
}

func init() {
	rootCmd.AddCommand(relocateCmd)

	relocateCmd.Flags().StringSlice("root", nil, "scan root (repeatable)")
	relocateCmd.Flags().String("roots-file", "", "YAML file listing scan roots")
	relocateCmd.Flags().String("dest-root", "", "destination library root (native form, e.g. V:\\TV)")
	relocateCmd.Flags().Bool("allow-needs-review", false, "plan moves for metadata flagged needs_review")
	relocateCmd.Flags().Bool("queue-missing-metadata", false, "emit a metadata queue artifact for skipped files")
	relocateCmd.Flags().Bool("apply", false, "auto-register unknown paths and finalize the move plan")

	viper.BindPFlag("dest-root", relocateCmd.Flags().Lookup("dest-root"))
}

func runRelocate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	flagRoots, _ := cmd.Flags().GetStringSlice("root")
	rootsPath, _ := cmd.Flags().GetString("roots-file")
	allowNeedsReview, _ := cmd.Flags().GetBool("allow-needs-review")
	queueMissing, _ := cmd.Flags().GetBool("queue-missing-metadata")
	apply, _ := cmd.Flags().GetBool("apply")

	destRoot := viper.GetString("dest-root")
	if destRoot == "" {
		return fmt.Errorf("destination root is required (use --dest-root or set in config)")
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	summary := report.New("relocate")

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

	planner := placement.NewPlanner(&placement.PlannerConfig{
		Store:                db,
		DestRoot:             destRoot,
		AllowNeedsReview:     allowNeedsReview,
		QueueMissingMetadata: queueMissing,
		Apply:                apply,
	})

	plan, err := planner.Build(scanResult.Files)
	if err != nil {
		return summary.Fail(fmt.Sprintf("relocate plan failed: %v", err)).Emit()
	}

	planPath := artifactPath("move", "relocate_plan")
	if err := writeRows(planPath, "relocate_plan", map[string]any{
		"roots":     roots,
		"dest_root": destRoot,
		"apply":     apply,
	}, plan.Rows); err != nil {
		return summary.Fail(fmt.Sprintf("failed to write plan artifact: %v", err)).Emit()
	}
	summary.Artifact("plan", planPath)

	summary.Count("scannedFiles", len(scanResult.Files)).
		Count("registeredFiles", plan.RegisteredFiles).
		Count("plannedMoves", plan.PlannedMoves).
		Count("alreadyCorrect", plan.AlreadyCorrect).
		Count("unregisteredSkipped", plan.UnregisteredSkipped).
		Count("metadataMissingSkipped", plan.MetadataMissingSkipped).
		Count("invalidContractSkipped", plan.InvalidContractSkipped).
		Count("needsReviewSkipped", plan.NeedsReviewSkipped).
		Count("corruptCandidates", plan.CorruptCandidates)

	if queueMissing && len(plan.Queue) > 0 {
		queuePath := artifactPath("llm", "metadata_queue")
		if err := writeRows(queuePath, "metadata_queue", map[string]any{
			"origin": "relocate",
		}, plan.Queue); err != nil {
			return summary.Fail(fmt.Sprintf("failed to write queue artifact: %v", err)).Emit()
		}
		summary.Artifact("metadataQueue", queuePath)
		summary.Count("metadataQueue", len(plan.Queue))
	}

	if len(plan.Moves) > 0 {
		movePath := artifactPath("move", "move_plan")
		if err := writeRows(movePath, "move_plan", map[string]any{
			"dest_root": destRoot,
			"apply":     apply,
		}, plan.Moves); err != nil {
			return summary.Fail(fmt.Sprintf("failed to write move plan: %v", err)).Emit()
		}
		summary.Artifact("movePlan", movePath)
	}

	if apply && summary.OK {
		prereg, err := planner.Preregister(plan.Prereg, Version)
		if err != nil {
			return summary.Fail(fmt.Sprintf("auto-register failed: %v", err)).Emit()
		}
		if prereg.RunID != "" {
			summary.RunID = prereg.RunID
		}
		summary.Count("autoRegistered", prereg.Paths)
	}

	return summary.Emit()
}
