package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/mediaops/internal/artifact"
	"github.com/franz/mediaops/internal/scan"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// openStore applies the log flags and opens the state database
func openStore() (*store.Store, error) {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	dbPath := viper.GetString("db")
	util.InfoLog("Opening database: %s", dbPath)

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// rootsFile is the YAML shape of a --roots-file
type rootsFile struct {
	Roots []string `yaml:"roots"`
}

// resolveRoots merges --root flags with an optional roots file
func resolveRoots(flagRoots []string, rootsPath string) ([]string, error) {
	roots := append([]string{}, flagRoots...)

	if rootsPath != "" {
		data, err := os.ReadFile(rootsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read roots file: %w", err)
		}
		var rf rootsFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("failed to parse roots file %s: %w", rootsPath, err)
		}
		roots = append(roots, rf.Roots...)
	}

	if len(roots) == 0 {
		return nil, fmt.Errorf("no scan roots given (use --root or --roots-file)")
	}
	return roots, nil
}

// newScanner builds a Scanner from viper-bound scan knobs
func newScanner() *scan.Scanner {
	return scan.New(&scan.Config{
		Extensions:       viper.GetStringSlice("extensions"),
		DetectCorruption: viper.GetBool("detect-corruption"),
		ReadBytes:        viper.GetInt("read-bytes"),
		RetryCount:       viper.GetInt("scan-retry-count"),
		Concurrency:      viper.GetInt("concurrency"),
	})
}

// runScan walks the roots and applies the configured warning policy,
// returning the scan result plus any policy-escalated batch errors
func runScan(ctx context.Context, roots []string) (*scan.Result, []string, error) {
	policy, err := scan.ParseWarningPolicy(
		viper.GetString("scan-error-policy"),
		viper.GetInt("scan-error-threshold"))
	if err != nil {
		return nil, nil, err
	}

	scanResult, err := newScanner().Scan(ctx, roots)
	if err != nil {
		return nil, nil, fmt.Errorf("scan failed: %w", err)
	}

	batchErrors := append([]string{}, scanResult.Errors...)
	batchErrors = append(batchErrors, policy.Check(len(scanResult.Warnings))...)
	return scanResult, batchErrors, nil
}

// artifactPath builds <ops-root>/<sub>/<kind>_<timestamp>.jsonl
func artifactPath(sub, kind string) string {
	return filepath.Join(viper.GetString("ops-root"), sub, artifact.Filename(kind, time.Now()))
}

// writeRows writes one artifact with a _meta first line and one JSON row per
// entry. rows must be a slice of JSON-serializable values.
func writeRows[T any](path, kind string, opts map[string]any, rows []T) error {
	w, err := artifact.NewWriter(path, artifact.NewMeta(kind, opts))
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	util.InfoLog("Wrote %s artifact: %s (%d rows)", kind, path, len(rows))
	return nil
}
