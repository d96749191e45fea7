package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testRow struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "plan.jsonl")

	w, err := NewWriter(path, NewMeta("backfill_plan", map[string]any{"n": 2}))
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	rows := []testRow{
		{Path: `D:\a.ts`, Size: 100},
		{Path: `D:\b.ts`, Size: 200},
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open reader: %v", err)
	}
	defer r.Close()

	if r.Meta().Kind() != "backfill_plan" {
		t.Errorf("meta kind = %q", r.Meta().Kind())
	}

	var got []testRow
	for {
		var row testRow
		ok, err := r.Next(&row)
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, row)
	}
	if len(got) != 2 || got[0].Path != `D:\a.ts` || got[1].Size != 200 {
		t.Errorf("unexpected rows: %+v", got)
	}
}

func TestReaderToleratesBOMAndMissingMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.jsonl")
	content := "\xEF\xBB\xBF{\"path\":\"D:\\\\a.ts\",\"size\":1}\n\n{\"path\":\"D:\\\\b.ts\",\"size\":2}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer r.Close()

	if r.Meta() != nil {
		t.Errorf("expected nil meta, got %v", r.Meta())
	}

	var rows []testRow
	for {
		var row testRow
		ok, err := r.Next(&row)
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Path != `D:\a.ts` || rows[1].Path != `D:\b.ts` {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestReaderEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer r.Close()

	var row testRow
	ok, err := r.Next(&row)
	if err != nil || ok {
		t.Errorf("expected clean end of file, got ok=%v err=%v", ok, err)
	}
}

func TestReaderMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{\"_meta\":{\"kind\":\"x\"}}\nnot json\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer r.Close()

	var row testRow
	if _, err := r.Next(&row); err == nil {
		t.Error("expected decode error for malformed line")
	}
}

func TestFilename(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	if got := Filename("dedup_plan", ts); got != "dedup_plan_20240102_150405.jsonl" {
		t.Errorf("Filename = %q", got)
	}
}
