package main

import (
	"fmt"

	"github.com/franz/mediaops/internal/ingest"
	"github.com/franz/mediaops/internal/report"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load an inventory JSONL into the path store",
	Long: `Load an externally produced inventory JSONL (one file record per line)
into the store: every record gets a deterministic path identity, a path row,
and an observation under a fresh inventory run.

The whole file is one transaction; a malformed line rolls everything back.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("jsonl", "", "inventory JSONL file to ingest (required)")
	ingestCmd.Flags().String("target-root", "", "root the inventory was taken against (recorded on the run)")
	ingestCmd.MarkFlagRequired("jsonl")
}

func runIngest(cmd *cobra.Command, args []string) error {
	jsonlPath, _ := cmd.Flags().GetString("jsonl")
	targetRoot, _ := cmd.Flags().GetString("target-root")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	recorder := ingest.New(&ingest.Config{Store: db})
	result, err := recorder.IngestFile(jsonlPath, targetRoot, Version)

	summary := report.New("ingest")
	if err != nil {
		return summary.Fail(fmt.Sprintf("ingest failed: %v", err)).Emit()
	}

	summary.RunID = result.RunID
	summary.Count("lines", result.Lines).
		Count("pathsUpserted", result.PathsUpserted).
		Count("observationsUpserted", result.ObsUpserted).
		Count("skippedNoPath", result.SkippedNoPath)
	return summary.Emit()
}
