package main

import (
	"context"
	"fmt"

	"github.com/franz/mediaops/internal/ingest"
	"github.com/franz/mediaops/internal/report"
	"github.com/franz/mediaops/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan roots and write an inventory JSONL",
	Long: `Walk the given roots and write an inventory JSONL artifact, one record
per discovered recording file. Corrupt candidates (zero size, unreadable
head) are flagged in the record.

The artifact feeds 'mops ingest', or an external inventory consumer.`,
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringSlice("root", nil, "scan root (repeatable)")
	scanCmd.Flags().String("roots-file", "", "YAML file listing scan roots")
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	flagRoots, _ := cmd.Flags().GetStringSlice("root")
	rootsPath, _ := cmd.Flags().GetString("roots-file")

	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	summary := report.New("scan")

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

	records := make([]*ingest.Record, 0, len(scanResult.Files))
	var totalBytes int64
	corrupt := 0
	for _, f := range scanResult.Files {
		records = append(records, &ingest.Record{
			Path:          f.WinPath,
			Type:          "file",
			Size:          f.SizeBytes,
			MtimeUTC:      f.MtimeUTC,
			Corrupt:       f.Corrupt,
			CorruptReason: f.CorruptReason,
		})
		totalBytes += f.SizeBytes
		if f.Corrupt {
			corrupt++
		}
	}

	invPath := artifactPath("move", "inventory")
	if err := writeRows(invPath, "inventory", map[string]any{
		"roots": roots,
		"bytes": report.HumanBytes(totalBytes),
	}, records); err != nil {
		return summary.Fail(fmt.Sprintf("failed to write inventory: %v", err)).Emit()
	}
	summary.Artifact("inventory", invPath)

	summary.Count("files", len(scanResult.Files)).
		Count("corruptCandidates", corrupt)
	return summary.Emit()
}
