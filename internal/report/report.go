// Package report renders machine-readable run summaries on stdout.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// MaxWarnings caps how many warning strings a summary carries.
const MaxWarnings = 200

// Summary is the JSON document every command prints as its last stdout line.
// Counters vary per command and live in Counts; artifact paths in Artifacts.
type Summary struct {
	OK                bool              `json:"ok"`
	Command           string            `json:"command"`
	RunID             string            `json:"runId,omitempty"`
	Counts            map[string]int    `json:"counts,omitempty"`
	Artifacts         map[string]string `json:"artifacts,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
	WarningsTruncated int               `json:"warningsTruncated,omitempty"`
	Errors            []string          `json:"errors,omitempty"`
}

// New creates a Summary for a command. OK starts true and flips to false
// when the first error is added.
func New(command string) *Summary {
	return &Summary{
		OK:        true,
		Command:   command,
		Counts:    map[string]int{},
		Artifacts: map[string]string{},
	}
}

// Count sets a named counter
func (s *Summary) Count(name string, n int) *Summary {
	s.Counts[name] = n
	return s
}

// Artifact records the path of a produced artifact under a short key
func (s *Summary) Artifact(key, path string) *Summary {
	if path != "" {
		s.Artifacts[key] = path
	}
	return s
}

// Warn appends warnings, keeping at most MaxWarnings and counting the rest
func (s *Summary) Warn(warnings ...string) *Summary {
	for _, w := range warnings {
		if len(s.Warnings) < MaxWarnings {
			s.Warnings = append(s.Warnings, w)
		} else {
			s.WarningsTruncated++
		}
	}
	return s
}

// Fail appends errors and marks the summary not OK
func (s *Summary) Fail(errors ...string) *Summary {
	if len(errors) > 0 {
		s.OK = false
		s.Errors = append(s.Errors, errors...)
	}
	return s
}

// WriteTo prints the summary as a single indented JSON document
func (s *Summary) WriteTo(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Emit prints the summary to stdout and returns an error when the summary
// carries errors, so the caller's RunE propagates a non-zero exit.
func (s *Summary) Emit() error {
	if err := s.WriteTo(os.Stdout); err != nil {
		return err
	}
	if !s.OK {
		return fmt.Errorf("%s finished with %d error(s)", s.Command, len(s.Errors))
	}
	return nil
}

// HumanBytes formats a byte count for log lines
func HumanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
