// Package ingest records inventory snapshots into the path store.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/franz/mediaops/internal/artifact"
	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
)

// Record is one inventory line as produced by the inventory scanner
type Record struct {
	Path          string          `json:"path"`
	Type          string          `json:"type"`
	Size          int64           `json:"size"`
	MtimeUTC      string          `json:"mtimeUtc"`
	NameFlags     json.RawMessage `json:"nameFlags,omitempty"`
	Corrupt       bool            `json:"corrupt_candidate,omitempty"`
	CorruptReason string          `json:"corrupt_reason,omitempty"`
}

// flagsJSON folds the record's corruption verdict into the observation's
// flags document so it survives the inventory round trip
func flagsJSON(rec *Record) (string, error) {
	if !rec.Corrupt {
		return string(rec.NameFlags), nil
	}
	flags := map[string]any{}
	if len(rec.NameFlags) > 0 {
		if err := json.Unmarshal(rec.NameFlags, &flags); err != nil {
			return "", fmt.Errorf("bad nameFlags for %s: %w", rec.Path, err)
		}
	}
	flags["corrupt_candidate"] = true
	if rec.CorruptReason != "" {
		flags["corrupt_reason"] = rec.CorruptReason
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Recorder turns inventory records into paths and run-scoped observations
type Recorder struct {
	store *store.Store
	namer *identity.Namer
}

// Config holds recorder configuration
type Config struct {
	Store *store.Store
	Namer *identity.Namer
}

// New creates a new Recorder
func New(cfg *Config) *Recorder {
	namer := cfg.Namer
	if namer == nil {
		namer = identity.Default()
	}
	return &Recorder{store: cfg.Store, namer: namer}
}

// Result represents an ingest result
type Result struct {
	RunID         string
	Lines         int
	PathsUpserted int
	ObsUpserted   int
	SkippedNoPath int
}

// IngestFile loads an inventory JSONL into the store under a fresh inventory
// run. The whole ingest is one transaction; a malformed line aborts it.
func (r *Recorder) IngestFile(jsonlPath, targetRoot, toolVersion string) (*Result, error) {
	util.InfoLog("Ingesting inventory: %s", jsonlPath)

	reader, err := artifact.Open(jsonlPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	result := &Result{}

	err = r.store.Transaction(func(q store.Querier) error {
		runID, err := r.store.BeginRun(q, store.RunKindInventory, targetRoot, toolVersion, "")
		if err != nil {
			return err
		}
		result.RunID = runID

		var rec Record
		for {
			ok, err := reader.Next(&rec)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			result.Lines++

			if rec.Path == "" {
				result.SkippedNoPath++
				continue
			}

			pathID := r.namer.PathID(rec.Path)
			drive, dir, name, ext := identity.SplitWindows(rec.Path)

			if err := r.store.UpsertPath(q, &store.Path{
				PathID: pathID,
				Path:   rec.Path,
				Drive:  drive,
				Dir:    dir,
				Name:   name,
				Ext:    ext,
			}); err != nil {
				return err
			}
			result.PathsUpserted++

			nameFlags, err := flagsJSON(&rec)
			if err != nil {
				return err
			}
			if err := r.store.UpsertObservation(q, &store.Observation{
				RunID:     runID,
				PathID:    pathID,
				SizeBytes: rec.Size,
				MtimeUTC:  rec.MtimeUTC,
				Type:      rec.Type,
				NameFlags: nameFlags,
			}); err != nil {
				return err
			}
			result.ObsUpserted++

			rec = Record{}
		}

		return r.store.FinishRun(q, runID)
	})
	if err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}

	util.SuccessLog("Ingest complete: run=%s lines=%d paths=%d observations=%d skipped=%d",
		result.RunID, result.Lines, result.PathsUpserted, result.ObsUpserted, result.SkippedNoPath)
	return result, nil
}
