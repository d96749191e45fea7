package main

import (
	"encoding/json"
	"fmt"

	"github.com/franz/mediaops/internal/artifact"
	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/placement"
	"github.com/franz/mediaops/internal/report"
	"github.com/franz/mediaops/internal/store"
	"github.com/spf13/cobra"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Load a metadata JSONL into path_metadata",
	Long: `Load metadata rows for known paths. Each line carries "path_id" or
"path" plus a "data" object; rows from the llm source must satisfy the
metadata contract (program_title, air_date, needs_review).

Rows that resolve to no known path are counted and skipped. A contract
violation aborts the whole batch with a row-identifying error.`,
	RunE: runMetadataUpsert,
}

func init() {
	rootCmd.AddCommand(metadataCmd)

	metadataCmd.Flags().String("in", "", "metadata JSONL file (required)")
	metadataCmd.Flags().String("source", store.SourceLLM, "provenance source recorded on each row")
	metadataCmd.Flags().Bool("human-reviewed", false, "mark all rows human reviewed")
	metadataCmd.MarkFlagRequired("in")
}

// metadataLine is one input row
type metadataLine struct {
	PathID        string          `json:"path_id"`
	Path          string          `json:"path"`
	Data          json.RawMessage `json:"data"`
	HumanReviewed bool            `json:"human_reviewed"`
}

func runMetadataUpsert(cmd *cobra.Command, args []string) error {
	inPath, _ := cmd.Flags().GetString("in")
	source, _ := cmd.Flags().GetString("source")
	humanReviewed, _ := cmd.Flags().GetBool("human-reviewed")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	summary := report.New("metadata")

	reader, err := artifact.Open(inPath)
	if err != nil {
		return summary.Fail(fmt.Sprintf("failed to open metadata file: %v", err)).Emit()
	}
	defer reader.Close()

	namer := identity.Default()
	lines, upserted, unknown := 0, 0, 0

	err = db.Transaction(func(q store.Querier) error {
		runID, err := db.BeginRun(q, store.RunKindMetadata, "", Version,
			fmt.Sprintf("source=%s", source))
		if err != nil {
			return err
		}
		summary.RunID = runID

		for {
			line := &metadataLine{}
			ok, err := reader.Next(line)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			lines++

			pathID := line.PathID
			if pathID == "" {
				if line.Path == "" {
					return fmt.Errorf("metadata line %d: neither path_id nor path given", lines)
				}
				pathID = namer.PathID(line.Path)
			}

			var obj map[string]any
			if err := json.Unmarshal(line.Data, &obj); err != nil {
				return fmt.Errorf("metadata line %d: data is not a JSON object: %w", lines, err)
			}
			if source == store.SourceLLM {
				if _, valid := placement.ParseContract(string(line.Data)); !valid {
					return fmt.Errorf("metadata contract violated: line=%d path_id=%s", lines, pathID)
				}
			}

			row, err := db.GetPathByID(q, pathID)
			if err != nil {
				return err
			}
			if row == nil {
				unknown++
				continue
			}

			if err := db.UpsertPathMetadata(q, &store.PathMetadata{
				PathID:        pathID,
				Source:        source,
				DataJSON:      string(line.Data),
				HumanReviewed: humanReviewed || line.HumanReviewed,
			}); err != nil {
				return err
			}
			upserted++
		}

		return db.FinishRun(q, runID)
	})
	if err != nil {
		return summary.Fail(fmt.Sprintf("metadata load failed: %v", err)).Emit()
	}

	summary.Count("lines", lines).
		Count("upserted", upserted).
		Count("unknownPaths", unknown)
	return summary.Emit()
}
