package main

import (
	"fmt"
	"path/filepath"

	"github.com/franz/mediaops/internal/dedup"
	"github.com/franz/mediaops/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Group duplicate recordings and plan quarantine moves",
	Long: `Group recordings by program/episode identity from stored metadata and
decide, per group, which copy to keep. Losing copies get quarantine
destinations under <ops-root>/duplicates/quarantine.

Groups with unknown broadcast buckets mixed in, or without at least two
confident members, go to manual review instead of being planned.

With --applied the mover's result JSONL is recorded back into the store:
path rows move to their quarantine locations and events are appended.`,
	RunE: runDedup,
}

func init() {
	rootCmd.AddCommand(dedupCmd)

	dedupCmd.Flags().Float64("confidence-threshold", 0.8, "minimum metadata confidence for auto processing")
	dedupCmd.Flags().Bool("allow-needs-review", false, "treat needs_review metadata as eligible")
	dedupCmd.Flags().Bool("split-by-broadcast", false, "keep one copy per broadcast bucket")
	dedupCmd.Flags().Int("max-groups", 0, "process at most N groups (0 = unlimited)")
	dedupCmd.Flags().String("bucket-rules", "", "YAML file with broadcast bucket keywords")
	dedupCmd.Flags().String("applied", "", "mover result JSONL to record into the store")

	viper.BindPFlag("confidence-threshold", dedupCmd.Flags().Lookup("confidence-threshold"))
	viper.BindPFlag("bucket-rules", dedupCmd.Flags().Lookup("bucket-rules"))
}

func runDedup(cmd *cobra.Command, args []string) error {
	allowNeedsReview, _ := cmd.Flags().GetBool("allow-needs-review")
	splitByBroadcast, _ := cmd.Flags().GetBool("split-by-broadcast")
	maxGroups, _ := cmd.Flags().GetInt("max-groups")
	appliedPath, _ := cmd.Flags().GetString("applied")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	summary := report.New("dedup")

	var rules *dedup.BucketRules
	if rulesPath := viper.GetString("bucket-rules"); rulesPath != "" {
		rules, err = dedup.LoadBucketRules(rulesPath)
		if err != nil {
			return summary.Fail(fmt.Sprintf("failed to load bucket rules: %v", err)).Emit()
		}
	}

	quarantineRoot := filepath.Join(viper.GetString("ops-root"), "duplicates", "quarantine")
	planner := dedup.NewPlanner(&dedup.PlannerConfig{
		Store:               db,
		Rules:               rules,
		QuarantineRoot:      quarantineRoot,
		ConfidenceThreshold: viper.GetFloat64("confidence-threshold"),
		AllowNeedsReview:    allowNeedsReview,
		SplitByBroadcast:    splitByBroadcast,
		MaxGroups:           maxGroups,
	})

	plan, err := planner.Build()
	if err != nil {
		return summary.Fail(fmt.Sprintf("dedup plan failed: %v", err)).Emit()
	}
	summary.Fail(plan.Errors...)

	planPath := artifactPath("move", "dedup_plan")
	if err := writeRows(planPath, "dedup_plan", map[string]any{
		"confidence_threshold": viper.GetFloat64("confidence-threshold"),
		"split_by_broadcast":   splitByBroadcast,
	}, plan.Rows); err != nil {
		return summary.Fail(fmt.Sprintf("failed to write plan artifact: %v", err)).Emit()
	}
	summary.Artifact("plan", planPath)

	summary.Count("groupsTotal", plan.GroupsTotal).
		Count("groupsAutoProcessed", plan.GroupsAutoProcessed).
		Count("groupsManualReview", plan.GroupsManualReview).
		Count("groupsSplitByBroadcast", plan.GroupsSplitByBroadcast).
		Count("filesKept", plan.FilesKept).
		Count("filesDropped", plan.FilesDropped).
		Count("droppedForMissingKey", plan.DroppedForMissingKey)

	if appliedPath != "" && summary.OK {
		applied, err := planner.ApplyMoves(appliedPath, quarantineRoot, Version, plan.Drops)
		if err != nil {
			return summary.Fail(fmt.Sprintf("dedup apply failed: %v", err)).Emit()
		}
		summary.RunID = applied.RunID
		summary.Count("filesMoved", applied.FilesMoved)
		summary.Fail(applied.Errors...)

		applyPath := artifactPath("move", "dedup_apply")
		if err := writeRows(applyPath, "dedup_apply", map[string]any{
			"run_id": applied.RunID,
		}, applied.Rows); err != nil {
			return summary.Fail(fmt.Sprintf("failed to write apply artifact: %v", err)).Emit()
		}
		summary.Artifact("applied", applyPath)
	}

	return summary.Emit()
}
