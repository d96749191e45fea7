package store

import (
	"testing"
)

// mergeFixture sets up two path identities with overlapping dependent rows
// and returns the run ids used.
func mergeFixture(t *testing.T, s *Store) (run1, run2 string) {
	t.Helper()

	err := s.Transaction(func(q Querier) error {
		var err error
		run1, err = s.BeginRun(q, RunKindInventory, "", "test", "")
		if err != nil {
			return err
		}
		if err := s.FinishRun(q, run1); err != nil {
			return err
		}
		run2, err = s.BeginRun(q, RunKindInventory, "", "test", "")
		if err != nil {
			return err
		}
		if err := s.FinishRun(q, run2); err != nil {
			return err
		}

		for _, p := range []*Path{
			{PathID: "src", Path: `D:\old\Show.ts`, Drive: "D", Name: "Show", Ext: ".ts"},
			{PathID: "dst", Path: `V:\TV\Show\2024\01\Show.ts`, Drive: "V", Name: "Show", Ext: ".ts"},
		} {
			if err := s.UpsertPath(q, p); err != nil {
				return err
			}
		}

		// run1 observed both; run2 observed only src
		obs := []*Observation{
			{RunID: run1, PathID: "src", SizeBytes: 111},
			{RunID: run1, PathID: "dst", SizeBytes: 999},
			{RunID: run2, PathID: "src", SizeBytes: 222},
		}
		for _, o := range obs {
			if err := s.UpsertObservation(q, o); err != nil {
				return err
			}
		}

		// metadata on both sides; src is human reviewed and must win
		if err := s.UpsertPathMetadata(q, &PathMetadata{
			PathID: "dst", Source: SourceLLM,
			DataJSON: `{"program_title":"Old"}`,
		}); err != nil {
			return err
		}
		if err := s.UpsertPathMetadata(q, &PathMetadata{
			PathID: "src", Source: "manual", HumanReviewed: true,
			DataJSON: `{"program_title":"Reviewed"}`,
		}); err != nil {
			return err
		}

		tagID, err := s.EnsureTag(q, "review", "checked")
		if err != nil {
			return err
		}
		if err := s.AttachPathTag(q, "src", tagID, "manual"); err != nil {
			return err
		}

		return s.AppendEvent(q, &Event{
			RunID: run1, Kind: EventMove, SrcPathID: "src", OK: true,
		})
	})
	if err != nil {
		t.Fatalf("fixture setup failed: %v", err)
	}
	return run1, run2
}

func TestMergePaths(t *testing.T) {
	s := openTestStore(t)
	run1, run2 := mergeFixture(t, s)

	var counts *MergeCounts
	err := s.Transaction(func(q Querier) error {
		var err error
		counts, err = s.MergePaths(q, "src", "dst",
			`V:\TV\Show\2024\01\Show.ts`, "V", `V:\TV\Show\2024\01`, "Show", ".ts")
		return err
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if counts.Observations != 2 || counts.Metadata != 1 || counts.PathTags != 1 || counts.Events != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}

	// Exactly one path row survives
	if row, _ := s.GetPathByID(s.DB(), "src"); row != nil {
		t.Error("source path row still exists")
	}
	dst, err := s.GetPathByID(s.DB(), "dst")
	if err != nil || dst == nil {
		t.Fatalf("destination row missing: %v", err)
	}
	if dst.Path != `V:\TV\Show\2024\01\Show.ts` {
		t.Errorf("destination not rewritten: %s", dst.Path)
	}

	// Colliding run1 observation carries the source's values; run2's moved over
	var size int64
	if err := s.db.QueryRow(
		"SELECT size_bytes FROM observations WHERE run_id = ? AND path_id = 'dst'", run1).Scan(&size); err != nil {
		t.Fatalf("run1 observation missing: %v", err)
	}
	if size != 111 {
		t.Errorf("colliding observation not overwritten by source: %d", size)
	}
	if err := s.db.QueryRow(
		"SELECT size_bytes FROM observations WHERE run_id = ? AND path_id = 'dst'", run2).Scan(&size); err != nil {
		t.Fatalf("run2 observation not repointed: %v", err)
	}
	if size != 222 {
		t.Errorf("unexpected repointed observation: %d", size)
	}
	var orphans int
	s.db.QueryRow("SELECT COUNT(*) FROM observations WHERE path_id = 'src'").Scan(&orphans)
	if orphans != 0 {
		t.Errorf("%d observations still under the source id", orphans)
	}

	// Human-reviewed metadata won; no metadata remains under src
	md, err := s.GetPathMetadata(s.DB(), "dst")
	if err != nil || md == nil {
		t.Fatalf("destination metadata missing: %v", err)
	}
	if !md.HumanReviewed || md.Source != "manual" {
		t.Errorf("human-reviewed metadata did not win: %+v", md)
	}
	if gone, _ := s.GetPathMetadata(s.DB(), "src"); gone != nil {
		t.Error("source metadata still exists")
	}

	// Tag followed the surviving identity
	tags, err := s.TagsForPath("dst")
	if err != nil || len(tags) != 1 {
		t.Fatalf("destination tags: %d, %v", len(tags), err)
	}

	// Event history is queryable under the surviving id, not the dead one
	events, err := s.EventsForPath("dst")
	if err != nil || len(events) != 1 {
		t.Errorf("expected 1 event under dst, got %d (%v)", len(events), err)
	}
	if old, _ := s.EventsForPath("src"); len(old) != 0 {
		t.Errorf("events still reference the merged-away id: %d", len(old))
	}
}

func TestMergePathsMissingDestination(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertPath(s.DB(), &Path{PathID: "src", Path: `D:\a.ts`}); err != nil {
		t.Fatal(err)
	}

	err := s.Transaction(func(q Querier) error {
		_, err := s.MergePaths(q, "src", "ghost", `D:\b.ts`, "D", `D:\`, "b", ".ts")
		return err
	})
	if err == nil {
		t.Fatal("expected error for missing destination row")
	}

	// The rollback must leave the source untouched
	row, err := s.GetPathByID(s.DB(), "src")
	if err != nil || row == nil {
		t.Errorf("source row lost after failed merge: %v", err)
	}
}
