package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Inspect runs, paths and events",
}

var showRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	RunE:  runShowRuns,
}

var showOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "List open (unfinished) runs",
	Long: `List runs without a finished_at timestamp. An open run marks a batch
that was interrupted or rolled back; its writes are not in the store.`,
	RunE: runShowOpen,
}

var showPathCmd = &cobra.Command{
	Use:   "path <path-or-id>",
	Short: "Show one path row with its latest observation and metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowPath,
}

var showEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the audit trail for a run or a path",
	RunE:  runShowEvents,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showRunsCmd, showOpenCmd, showPathCmd, showEventsCmd)

	showRunsCmd.Flags().IntP("limit", "n", 20, "number of runs to list")
	showEventsCmd.Flags().String("run", "", "run id")
	showEventsCmd.Flags().String("path-id", "", "path identity")
}

func runShowRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.RecentRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		util.InfoLog("No runs recorded")
		return nil
	}
	for _, r := range runs {
		finished := r.FinishedAt
		if finished == "" {
			finished = "OPEN"
		}
		fmt.Printf("%s  %-12s  %s .. %s  %s\n", r.RunID, r.Kind, r.StartedAt, finished, r.Notes)
	}
	return nil
}

func runShowOpen(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.OpenRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		util.SuccessLog("No open runs")
		return nil
	}
	util.WarnLog("%d open run(s): their batches did not finish", len(runs))
	for _, r := range runs {
		fmt.Printf("%s  %-12s  started %s  %s\n", r.RunID, r.Kind, r.StartedAt, r.Notes)
	}
	return nil
}

func runShowPath(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	// Accept either a path identity or a path string
	arg := args[0]
	row, err := db.GetPathByID(db.DB(), arg)
	if err != nil {
		return err
	}
	if row == nil {
		row, err = db.GetPathByID(db.DB(), identity.Default().PathID(arg))
		if err != nil {
			return err
		}
	}
	if row == nil {
		return fmt.Errorf("no path row for %q", arg)
	}

	fmt.Printf("path_id: %s\n", row.PathID)
	fmt.Printf("path:    %s\n", row.Path)
	fmt.Printf("drive:   %s  dir: %s\n", row.Drive, row.Dir)
	fmt.Printf("name:    %s%s\n", row.Name, row.Ext)
	fmt.Printf("updated: %s\n", row.UpdatedAt)

	obs, err := db.LatestObservation(row.PathID)
	if err != nil {
		return err
	}
	if obs != nil {
		fmt.Printf("latest observation: run=%s size=%s mtime=%s\n",
			obs.RunID, humanize.Bytes(uint64(obs.SizeBytes)), obs.MtimeUTC)
	}

	md, err := db.GetPathMetadata(db.DB(), row.PathID)
	if err != nil {
		return err
	}
	if md != nil {
		fmt.Printf("metadata: source=%s human_reviewed=%v updated=%s\n",
			md.Source, md.HumanReviewed, md.UpdatedAt)
		var pretty map[string]any
		if json.Unmarshal([]byte(md.DataJSON), &pretty) == nil {
			out, _ := json.MarshalIndent(pretty, "  ", "  ")
			fmt.Printf("  %s\n", out)
		}
	}

	tags, err := db.TagsForPath(row.PathID)
	if err != nil {
		return err
	}
	for _, t := range tags {
		fmt.Printf("tag: %s:%s (source=%s)\n", t.Namespace, t.Name, t.Source)
	}
	return nil
}

func runShowEvents(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run")
	pathID, _ := cmd.Flags().GetString("path-id")
	if runID == "" && pathID == "" {
		return fmt.Errorf("either --run or --path-id is required")
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var events []*store.Event
	if runID != "" {
		events, err = db.EventsForRun(runID)
	} else {
		events, err = db.EventsForPath(pathID)
	}
	if err != nil {
		return err
	}
	if len(events) == 0 {
		util.InfoLog("No events")
		return nil
	}
	for _, e := range events {
		status := "ok"
		if !e.OK {
			status = "FAILED"
		}
		detail, _ := json.Marshal(e.Detail)
		fmt.Printf("%s  %-36s  %-6s  src=%s dst=%s  %s  %s\n",
			e.TS, e.Kind, status, e.SrcPathID, e.DstPathID, detail, e.Error)
	}
	return nil
}
