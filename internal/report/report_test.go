package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestSummaryRoundTrip(t *testing.T) {
	s := New("backfill").
		Count("scannedFiles", 3).
		Count("plannedOps", 2).
		Artifact("plan", `ops\move\backfill_plan_20240101_000000.jsonl`).
		Artifact("queue", "").
		Warn("stat failed: x")

	var buf bytes.Buffer
	if err := s.WriteTo(&buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var decoded Summary
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if !decoded.OK || decoded.Command != "backfill" {
		t.Errorf("header wrong: %+v", decoded)
	}
	if decoded.Counts["scannedFiles"] != 3 || decoded.Counts["plannedOps"] != 2 {
		t.Errorf("counts wrong: %v", decoded.Counts)
	}
	if _, ok := decoded.Artifacts["queue"]; ok {
		t.Error("empty artifact path must be omitted")
	}
	if len(decoded.Warnings) != 1 {
		t.Errorf("warnings = %v", decoded.Warnings)
	}
}

func TestSummaryFailFlipsOK(t *testing.T) {
	s := New("apply")
	if !s.OK {
		t.Fatal("fresh summary must start OK")
	}
	s.Fail()
	if !s.OK {
		t.Error("Fail with no errors must not flip OK")
	}
	s.Fail("move failed: a -> b :: oops")
	if s.OK || len(s.Errors) != 1 {
		t.Errorf("unexpected state: %+v", s)
	}
}

func TestSummaryWarningsTruncation(t *testing.T) {
	s := New("scan")
	for i := 0; i < MaxWarnings+25; i++ {
		s.Warn(fmt.Sprintf("warning %d", i))
	}
	if len(s.Warnings) != MaxWarnings {
		t.Errorf("kept %d warnings", len(s.Warnings))
	}
	if s.WarningsTruncated != 25 {
		t.Errorf("truncated = %d", s.WarningsTruncated)
	}
	if s.Warnings[0] != "warning 0" || s.Warnings[MaxWarnings-1] != fmt.Sprintf("warning %d", MaxWarnings-1) {
		t.Error("truncation must keep the earliest warnings")
	}
}

func TestEmitReturnsErrorOnFailure(t *testing.T) {
	if err := New("dedup").Count("groupsTotal", 0).Emit(); err != nil {
		t.Errorf("clean summary must emit nil, got %v", err)
	}

	err := New("dedup").Fail("bad", "worse").Emit()
	if err == nil {
		t.Fatal("failed summary must emit an error")
	}
	if !strings.Contains(err.Error(), "dedup finished with 2 error(s)") {
		t.Errorf("error text: %v", err)
	}
}

func TestHumanBytes(t *testing.T) {
	if got := HumanBytes(-5); got != "0 B" {
		t.Errorf("negative bytes = %q", got)
	}
	if got := HumanBytes(1500000); got == "" {
		t.Error("empty rendering")
	}
}
