package dedup

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/franz/mediaops/internal/artifact"
	"github.com/franz/mediaops/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRules() *BucketRules {
	return &BucketRules{
		TerrestrialKeywords: []string{"Tokyo TV"},
		BSCSKeywords:        []string{"BS Premium"},
	}
}

// seedCandidate registers a path with llm metadata and one observation
func seedCandidate(t *testing.T, s *store.Store, runID, pathID, path, dataJSON string, size int64) {
	t.Helper()
	if err := s.UpsertPath(s.DB(), &store.Path{PathID: pathID, Path: path}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertPathMetadata(s.DB(), &store.PathMetadata{
		PathID: pathID, Source: store.SourceLLM, DataJSON: dataJSON,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertObservation(s.DB(), &store.Observation{
		RunID: runID, PathID: pathID, SizeBytes: size, MtimeUTC: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
}

func beginFinishedRun(t *testing.T, s *store.Store) string {
	t.Helper()
	var runID string
	err := s.Transaction(func(q store.Querier) error {
		var err error
		runID, err = s.BeginRun(q, store.RunKindInventory, "", "test", "")
		if err != nil {
			return err
		}
		return s.FinishRun(q, runID)
	})
	if err != nil {
		t.Fatal(err)
	}
	return runID
}

func llmDoc(key, ep string, confidence float64, needsReview bool) string {
	return fmt.Sprintf(
		`{"normalized_program_key":%q,"episode_no":%q,"confidence":%g,"needs_review":%v,"program_title":"Show"}`,
		key, ep, confidence, needsReview)
}

func TestBuildGroupKey(t *testing.T) {
	key, reason := BuildGroupKey(map[string]any{"normalized_program_key": "show", "episode_no": "3"})
	if reason != "" || key != "show::ep::3" {
		t.Errorf("got %q %q", key, reason)
	}

	// Numeric episode numbers group with string ones
	key2, _ := BuildGroupKey(map[string]any{"normalized_program_key": "show", "episode_no": float64(3)})
	if key2 != key {
		t.Errorf("numeric episode yielded %q, want %q", key2, key)
	}

	key, reason = BuildGroupKey(map[string]any{"normalized_program_key": "show", "subtitle": "  The   FINALE "})
	if reason != "" || key != "show::sub::the finale" {
		t.Errorf("subtitle key = %q (%q)", key, reason)
	}

	if _, reason = BuildGroupKey(map[string]any{"episode_no": "1"}); reason != "missing_normalized_program_key" {
		t.Errorf("reason = %q", reason)
	}
	if _, reason = BuildGroupKey(map[string]any{"normalized_program_key": "show"}); reason != "missing_episode_and_subtitle" {
		t.Errorf("reason = %q", reason)
	}
}

func TestChooseKeepTotalOrder(t *testing.T) {
	candidates := []*Candidate{
		{PathID: "a", Path: `D:\a.ts`, NotCorrupt: true, ResolutionScore: 1920 * 1080, SizeBytes: 100},
		{PathID: "b", Path: `D:\b.ts`, NotCorrupt: true, ResolutionScore: 1280 * 720, SizeBytes: 999},
		{PathID: "c", Path: `D:\c.ts`, NotCorrupt: false, ResolutionScore: 3840 * 2160, SizeBytes: 999},
	}

	keep := ChooseKeep(candidates)
	if keep.PathID != "a" {
		t.Errorf("expected a (highest resolution, not corrupt), got %s", keep.PathID)
	}

	// The choice is deterministic under input reordering
	for i := 0; i < 10; i++ {
		shuffled := make([]*Candidate, len(candidates))
		copy(shuffled, candidates)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := ChooseKeep(shuffled); got.PathID != keep.PathID {
			t.Fatalf("ordering changed the winner: %s vs %s", got.PathID, keep.PathID)
		}
	}
}

func TestChooseKeepPathTiebreak(t *testing.T) {
	candidates := []*Candidate{
		{PathID: "b", Path: `D:\b.ts`, NotCorrupt: true},
		{PathID: "a", Path: `D:\a.ts`, NotCorrupt: true},
	}
	if keep := ChooseKeep(candidates); keep.PathID != "a" {
		t.Errorf("path tiebreak failed: %s", keep.PathID)
	}
}

func TestPlanKeepDrop(t *testing.T) {
	s := openTestStore(t)
	runID := beginFinishedRun(t, s)

	seedCandidate(t, s, runID, "p1", `D:\a\ep3_hd.ts`, llmDoc("show", "3", 0.95, false), 2000)
	seedCandidate(t, s, runID, "p2", `D:\b\ep3_sd.ts`, llmDoc("show", "3", 0.9, false), 1000)
	// A singleton group never appears in the plan
	seedCandidate(t, s, runID, "p3", `D:\c\other_ep1.ts`, llmDoc("other", "1", 0.99, false), 500)

	planner := NewPlanner(&PlannerConfig{
		Store:               s,
		Rules:               testRules(),
		QuarantineRoot:      `Q:\ops\duplicates\quarantine`,
		ConfidenceThreshold: 0.8,
	})
	plan, err := planner.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if plan.GroupsTotal != 1 || plan.GroupsAutoProcessed != 1 {
		t.Fatalf("unexpected group counts: %+v", plan)
	}
	if plan.FilesKept != 1 || plan.FilesDropped != 1 {
		t.Errorf("kept=%d dropped=%d", plan.FilesKept, plan.FilesDropped)
	}
	if len(plan.Drops) != 1 || plan.Drops[0].PathID != "p2" {
		t.Errorf("expected p2 dropped, got %+v", plan.Drops)
	}

	// The drop row hands the mover its quarantine destination
	if plan.Drops[0].Dst != `Q:\ops\duplicates\quarantine\show_ep_3\ep3_sd.ts` {
		t.Errorf("drop dst = %q", plan.Drops[0].Dst)
	}
	for _, row := range plan.Rows {
		if row.Decision == "keep" && row.Dst != "" {
			t.Errorf("keep row must not carry a dst: %+v", row)
		}
	}
}

func TestPlanLowConfidenceGoesManual(t *testing.T) {
	s := openTestStore(t)
	runID := beginFinishedRun(t, s)

	seedCandidate(t, s, runID, "p1", `D:\a.ts`, llmDoc("show", "3", 0.95, false), 100)
	seedCandidate(t, s, runID, "p2", `D:\b.ts`, llmDoc("show", "3", 0.5, false), 100)

	planner := NewPlanner(&PlannerConfig{
		Store:               s,
		Rules:               testRules(),
		ConfidenceThreshold: 0.8,
	})
	plan, err := planner.Build()
	if err != nil {
		t.Fatal(err)
	}

	if plan.GroupsManualReview != 1 || plan.FilesDropped != 0 {
		t.Fatalf("expected whole group in manual review: %+v", plan)
	}
	for _, row := range plan.Rows {
		if row.Decision != "manual_review_required" || row.Reason != "low_confidence_or_needs_review" {
			t.Errorf("unexpected row: %+v", row)
		}
	}
}

func TestPlanNeedsReviewGate(t *testing.T) {
	s := openTestStore(t)
	runID := beginFinishedRun(t, s)

	seedCandidate(t, s, runID, "p1", `D:\a.ts`, llmDoc("show", "3", 0.95, true), 200)
	seedCandidate(t, s, runID, "p2", `D:\b.ts`, llmDoc("show", "3", 0.95, true), 100)

	strict := NewPlanner(&PlannerConfig{Store: s, Rules: testRules(), ConfidenceThreshold: 0.8})
	plan, err := strict.Build()
	if err != nil {
		t.Fatal(err)
	}
	if plan.GroupsManualReview != 1 {
		t.Errorf("needs_review rows must not auto process: %+v", plan)
	}

	relaxed := NewPlanner(&PlannerConfig{
		Store: s, Rules: testRules(), ConfidenceThreshold: 0.8, AllowNeedsReview: true,
	})
	plan, err = relaxed.Build()
	if err != nil {
		t.Fatal(err)
	}
	if plan.FilesKept != 1 || plan.FilesDropped != 1 {
		t.Errorf("allow-needs-review did not unlock the group: %+v", plan)
	}
}

func TestPlanSplitByBroadcast(t *testing.T) {
	s := openTestStore(t)
	runID := beginFinishedRun(t, s)

	doc := func(ep string, conf float64, bucket string) string {
		return fmt.Sprintf(
			`{"normalized_program_key":"show","episode_no":%q,"confidence":%g,"needs_review":false,"broadcast_bucket":%q}`,
			ep, conf, bucket)
	}
	seedCandidate(t, s, runID, "t1", `D:\t1.ts`, doc("3", 0.9, "terrestrial"), 500)
	seedCandidate(t, s, runID, "t2", `D:\t2.ts`, doc("3", 0.9, "terrestrial"), 400)
	seedCandidate(t, s, runID, "b1", `D:\b1.ts`, doc("3", 0.9, "bs_cs"), 300)

	planner := NewPlanner(&PlannerConfig{
		Store: s, Rules: testRules(), ConfidenceThreshold: 0.8, SplitByBroadcast: true,
	})
	plan, err := planner.Build()
	if err != nil {
		t.Fatal(err)
	}

	// One keep per bucket: t1 wins terrestrial, b1 is a bucket singleton
	if plan.FilesKept != 2 || plan.FilesDropped != 1 {
		t.Fatalf("kept=%d dropped=%d", plan.FilesKept, plan.FilesDropped)
	}
	if plan.GroupsSplitByBroadcast != 1 {
		t.Errorf("split count = %d", plan.GroupsSplitByBroadcast)
	}
	if plan.Drops[0].PathID != "t2" {
		t.Errorf("expected t2 dropped, got %s", plan.Drops[0].PathID)
	}
}

func TestPlanUnknownBucketMixed(t *testing.T) {
	s := openTestStore(t)
	runID := beginFinishedRun(t, s)

	doc := func(ep string, bucket string) string {
		if bucket == "" {
			return fmt.Sprintf(
				`{"normalized_program_key":"show","episode_no":%q,"confidence":0.9,"needs_review":false}`, ep)
		}
		return fmt.Sprintf(
			`{"normalized_program_key":"show","episode_no":%q,"confidence":0.9,"needs_review":false,"broadcast_bucket":%q}`,
			ep, bucket)
	}
	seedCandidate(t, s, runID, "t1", `D:\t1.ts`, doc("3", "terrestrial"), 500)
	seedCandidate(t, s, runID, "u1", `D:\u1.ts`, doc("3", ""), 400)

	planner := NewPlanner(&PlannerConfig{
		Store: s, Rules: testRules(), ConfidenceThreshold: 0.8, SplitByBroadcast: true,
	})
	plan, err := planner.Build()
	if err != nil {
		t.Fatal(err)
	}
	if plan.GroupsManualReview != 1 {
		t.Fatalf("mixed unknown bucket must go manual: %+v", plan)
	}
	for _, row := range plan.Rows {
		if row.Reason != "unknown_bucket_mixed" {
			t.Errorf("unexpected reason: %s", row.Reason)
		}
	}
}

func TestClassify(t *testing.T) {
	r := testRules()

	bucket, reason := r.Classify("terrestrial", "", "", "", "")
	if bucket != BucketTerrestrial || reason != "explicit_field" {
		t.Errorf("explicit field: %s %s", bucket, reason)
	}

	bucket, reason = r.Classify("", "Tokyo TV", "", "", "")
	if bucket != BucketTerrestrial || reason != "keyword:Tokyo TV" {
		t.Errorf("broadcaster keyword: %s %s", bucket, reason)
	}

	// Whitespace-stripped spelling still matches
	bucket, _ = r.Classify("", "TokyoTV", "", "", "")
	if bucket != BucketTerrestrial {
		t.Errorf("no-space spelling missed: %s", bucket)
	}

	bucket, _ = r.Classify("", "", "BS Premium 4K", "", "")
	if bucket != BucketBSCS {
		t.Errorf("channel keyword missed: %s", bucket)
	}

	bucket, reason = r.Classify("", "Nothing", "", `D:\x.ts`, "")
	if bucket != BucketUnknown || reason != "no_match" {
		t.Errorf("expected unknown: %s %s", bucket, reason)
	}
}

func TestApplyMoves(t *testing.T) {
	s := openTestStore(t)
	runID := beginFinishedRun(t, s)

	seedCandidate(t, s, runID, "p1", `D:\a\ep3_hd.ts`, llmDoc("show", "3", 0.95, false), 2000)
	seedCandidate(t, s, runID, "p2", `D:\b\ep3_sd.ts`, llmDoc("show", "3", 0.9, false), 1000)
	seedCandidate(t, s, runID, "p4", `D:\d\ep3_old.ts`, llmDoc("show", "3", 0.9, false), 500)

	quarantine := `Q:\ops\duplicates\quarantine`
	planner := NewPlanner(&PlannerConfig{
		Store: s, Rules: testRules(), QuarantineRoot: quarantine, ConfidenceThreshold: 0.8,
	})
	plan, err := planner.Build()
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Drops) != 2 {
		t.Fatalf("expected 2 drops, got %d", len(plan.Drops))
	}

	resultPath := filepath.Join(t.TempDir(), "mover_result.jsonl")
	w, err := artifact.NewWriter(resultPath, artifact.NewMeta("mover_result", nil))
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range plan.Drops {
		out := MoveOutcome{
			Op:     "move",
			PathID: d.PathID,
			Src:    d.Path,
			Dst:    d.Dst,
			OK:     i == 0,
		}
		if !out.OK {
			out.Error = "disk full"
		}
		if err := w.Write(out); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	result, err := planner.ApplyMoves(resultPath, quarantine, "test", plan.Drops)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if result.FilesMoved != 1 || len(result.Errors) != 1 {
		t.Fatalf("moved=%d errors=%v", result.FilesMoved, result.Errors)
	}

	moved := plan.Drops[0]
	row, err := s.GetPathByID(s.DB(), moved.PathID)
	if err != nil {
		t.Fatal(err)
	}
	wantDst := QuarantineDst(quarantine, moved.GroupKey, moved.Path)
	if row == nil || row.Path != wantDst {
		t.Errorf("path row not repointed: %+v", row)
	}

	// The failed move leaves its path row alone and only records an event
	failed := plan.Drops[1]
	row, err = s.GetPathByID(s.DB(), failed.PathID)
	if err != nil {
		t.Fatal(err)
	}
	if row == nil || row.Path != failed.Path {
		t.Errorf("failed move changed the path row: %+v", row)
	}
	events, err := s.EventsForPath(failed.PathID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != store.EventDedupMove || events[0].OK {
		t.Errorf("unexpected failure event: %+v", events)
	}

	if open, _ := s.OpenRuns(); len(open) != 0 {
		t.Errorf("apply run left open: %+v", open)
	}
}

func TestSafeGroupKeyAndQuarantineDst(t *testing.T) {
	if got := SafeGroupKey("show::ep::3"); got != "show_ep_3" {
		t.Errorf("SafeGroupKey = %q", got)
	}
	if got := SafeGroupKey("***"); got != "group" {
		t.Errorf("all-unsafe key = %q", got)
	}

	dst := QuarantineDst(`Q:\ops\duplicates\quarantine`, "show::ep::3", `D:\rec\ep3_sd.ts`)
	if dst != `Q:\ops\duplicates\quarantine\show_ep_3\ep3_sd.ts` {
		t.Errorf("QuarantineDst = %q", dst)
	}
}
