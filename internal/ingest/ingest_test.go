package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/mediaops/internal/identity"
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

func writeInventory(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIngestFile(t *testing.T) {
	s := openTestStore(t)
	jsonl := writeInventory(t, `{"_meta":{"kind":"inventory"}}
{"path":"D:\\rec\\Show_2024-01-02.ts","type":"file","size":1234,"mtimeUtc":"2024-01-02T20:00:00Z"}
{"path":"D:\\rec\\Other.mp4","type":"file","size":99,"mtimeUtc":"2024-01-03T20:00:00Z","nameFlags":{"sub":true}}
{"type":"file","size":5}
`)

	rec := New(&Config{Store: s})
	result, err := rec.IngestFile(jsonl, `D:\rec`, "test")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if result.Lines != 3 || result.PathsUpserted != 2 || result.ObsUpserted != 2 || result.SkippedNoPath != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	// Paths are registered under their deterministic identity
	pathID := identity.Default().PathID(`D:\rec\Show_2024-01-02.ts`)
	row, err := s.GetPathByID(s.DB(), pathID)
	if err != nil || row == nil {
		t.Fatalf("expected path row: %v", err)
	}
	if row.Name != "Show_2024-01-02" || row.Ext != ".ts" || row.Drive != "D" {
		t.Errorf("unexpected path row: %+v", row)
	}

	obs, err := s.LatestObservation(pathID)
	if err != nil || obs == nil {
		t.Fatalf("expected observation: %v", err)
	}
	if obs.SizeBytes != 1234 || obs.RunID != result.RunID {
		t.Errorf("unexpected observation: %+v", obs)
	}

	// The run is closed
	run, err := s.GetRun(result.RunID)
	if err != nil || run == nil || run.FinishedAt == "" {
		t.Errorf("run not finished: %+v, %v", run, err)
	}
}

func TestIngestCarriesCorruptionFlag(t *testing.T) {
	s := openTestStore(t)
	jsonl := writeInventory(t, `{"_meta":{"kind":"inventory"}}
{"path":"D:\\rec\\dead.ts","type":"file","size":0,"mtimeUtc":"2024-01-01T00:00:00Z","corrupt_candidate":true,"corrupt_reason":"size_zero"}
{"path":"D:\\rec\\tagged.ts","type":"file","size":5,"mtimeUtc":"2024-01-01T00:00:00Z","nameFlags":{"sub":true},"corrupt_candidate":true,"corrupt_reason":"unreadable_head"}
`)

	rec := New(&Config{Store: s})
	if _, err := rec.IngestFile(jsonl, "", "test"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	obs, err := s.LatestObservation(identity.Default().PathID(`D:\rec\dead.ts`))
	if err != nil || obs == nil {
		t.Fatalf("expected observation: %v", err)
	}
	var flags map[string]any
	if err := json.Unmarshal([]byte(obs.NameFlags), &flags); err != nil {
		t.Fatalf("flags not JSON: %q", obs.NameFlags)
	}
	if flags["corrupt_candidate"] != true || flags["corrupt_reason"] != "size_zero" {
		t.Errorf("corruption verdict lost: %v", flags)
	}

	// Existing nameFlags keys survive alongside the corruption verdict
	obs, err = s.LatestObservation(identity.Default().PathID(`D:\rec\tagged.ts`))
	if err != nil || obs == nil {
		t.Fatalf("expected observation: %v", err)
	}
	flags = nil
	if err := json.Unmarshal([]byte(obs.NameFlags), &flags); err != nil {
		t.Fatalf("flags not JSON: %q", obs.NameFlags)
	}
	if flags["sub"] != true || flags["corrupt_reason"] != "unreadable_head" {
		t.Errorf("flags merge wrong: %v", flags)
	}
}

func TestIngestIdempotent(t *testing.T) {
	s := openTestStore(t)
	jsonl := writeInventory(t, `{"_meta":{"kind":"inventory"}}
{"path":"D:\\rec\\A.ts","type":"file","size":10,"mtimeUtc":"2024-01-01T00:00:00Z"}
`)

	rec := New(&Config{Store: s})
	if _, err := rec.IngestFile(jsonl, "", "test"); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.IngestFile(jsonl, "", "test"); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountPaths()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("re-ingest duplicated path rows: %d", n)
	}
}

func TestIngestMalformedLineRollsBack(t *testing.T) {
	s := openTestStore(t)
	jsonl := writeInventory(t, `{"_meta":{"kind":"inventory"}}
{"path":"D:\\rec\\A.ts","type":"file","size":10}
this is not json
`)

	rec := New(&Config{Store: s})
	if _, err := rec.IngestFile(jsonl, "", "test"); err == nil {
		t.Fatal("expected error for malformed line")
	}

	n, _ := s.CountPaths()
	if n != 0 {
		t.Errorf("rollback left %d path rows", n)
	}

	// The run row was part of the rolled-back transaction
	open, err := s.OpenRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("rollback left %d open runs", len(open))
	}
}
