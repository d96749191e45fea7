// Package artifact reads and writes the pipeline's newline-delimited JSON
// plan/apply files. Line one is always a metadata object; every following
// line is one record; there is no trailing metadata line.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Meta is the `_meta` payload on the first line of an artifact
type Meta map[string]any

// NewMeta builds a metadata object with the kind and generation timestamp
// set, plus any option keys the generator wants recorded
func NewMeta(kind string, opts map[string]any) Meta {
	m := Meta{
		"kind":         kind,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range opts {
		m[k] = v
	}
	return m
}

// Kind returns the artifact kind recorded in the metadata line
func (m Meta) Kind() string {
	s, _ := m["kind"].(string)
	return s
}

// Filename returns the conventional artifact name for a kind at a moment,
// e.g. "backfill_plan_20240102_150405.jsonl"
func Filename(kind string, t time.Time) string {
	return fmt.Sprintf("%s_%s.jsonl", kind, t.Format("20060102_150405"))
}

// Writer emits one artifact file
type Writer struct {
	file *os.File
	enc  *json.Encoder
	path string
}

// NewWriter creates the artifact file (and its directory) and writes the
// metadata line
func NewWriter(path string, meta Meta) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}

	w := &Writer{file: file, enc: json.NewEncoder(file), path: path}
	if err := w.enc.Encode(map[string]any{"_meta": meta}); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write artifact meta: %w", err)
	}
	return w, nil
}

// Write appends one record line
func (w *Writer) Write(row any) error {
	if err := w.enc.Encode(row); err != nil {
		return fmt.Errorf("failed to write artifact row: %w", err)
	}
	return nil
}

// Path returns the artifact file path
func (w *Writer) Path() string {
	return w.path
}

// Close closes the artifact file
func (w *Writer) Close() error {
	return w.file.Close()
}

// Reader iterates an artifact's records
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
	meta    Meta
	pending []byte
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Open opens an artifact and consumes its metadata line. Files written by
// other tools may lack the metadata line or carry a UTF-8 BOM; both are
// tolerated (the first line is then treated as a record).
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	r := &Reader{file: file, scanner: scanner}
	for scanner.Scan() {
		line := bytes.TrimSpace(bytes.TrimPrefix(scanner.Bytes(), utf8BOM))
		if len(line) == 0 {
			continue
		}
		var head struct {
			Meta Meta `json:"_meta"`
		}
		if err := json.Unmarshal(line, &head); err == nil && head.Meta != nil {
			r.meta = head.Meta
		} else {
			r.pending = append([]byte(nil), line...)
		}
		return r, nil
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return r, nil
}

// Meta returns the metadata object, or nil if the file had none
func (r *Reader) Meta() Meta {
	return r.meta
}

// Next decodes the next record into v. It returns false at end of file.
// Blank lines are skipped; a malformed line is an error.
func (r *Reader) Next(v any) (bool, error) {
	if r.pending != nil {
		line := r.pending
		r.pending = nil
		if err := json.Unmarshal(line, v); err != nil {
			return false, fmt.Errorf("failed to decode artifact row: %w", err)
		}
		return true, nil
	}

	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return false, fmt.Errorf("failed to decode artifact row: %w", err)
		}
		return true, nil
	}
	if err := r.scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to read artifact: %w", err)
	}
	return false, nil
}

// Close closes the artifact file
func (r *Reader) Close() error {
	return r.file.Close()
}
