// Package scan walks recording roots and collects file facts for the
// identity pipeline.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/util"
	"github.com/schollz/progressbar/v3"
)

// VideoExtensions are the default recording file extensions
var VideoExtensions = []string{
	".mp4",
	".ts",
	".m2ts",
	".mkv",
}

// Scanner discovers recording files under one or more roots
type Scanner struct {
	extensions       map[string]bool
	detectCorruption bool
	readBytes        int
	retryCount       int
	concurrency      int
}

// Config holds scanner configuration
type Config struct {
	Extensions       []string
	DetectCorruption bool
	ReadBytes        int // corruption probe size in bytes
	RetryCount       int // extra passes over directories whose listing failed
	Concurrency      int
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ReadBytes <= 0 {
		cfg.ReadBytes = 4096
	}

	// Build extension map (case-insensitive)
	extMap := make(map[string]bool)
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = VideoExtensions
	}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[ext] = true
	}

	return &Scanner{
		extensions:       extMap,
		detectCorruption: cfg.DetectCorruption,
		readBytes:        cfg.ReadBytes,
		retryCount:       cfg.RetryCount,
		concurrency:      cfg.Concurrency,
	}
}

// ScannedFile is one discovered file with the facts the pipeline records
type ScannedFile struct {
	LocalPath     string `json:"local_path"`
	WinPath       string `json:"win_path"`
	Drive         string `json:"drive"`
	Dir           string `json:"dir"`
	Name          string `json:"name"`
	Ext           string `json:"ext"`
	SizeBytes     int64  `json:"size"`
	MtimeUTC      string `json:"mtime_utc"`
	Corrupt       bool   `json:"corrupt_candidate"`
	CorruptReason string `json:"corrupt_reason,omitempty"`
}

// Result represents a scan result. Warnings are non-fatal (unreadable
// directories, stat failures); Errors are bad inputs (missing roots).
type Result struct {
	Files    []*ScannedFile
	Warnings []string
	Errors   []string
}

// Scan walks the given roots and collects matching files. Files are returned
// sorted by native path so downstream plans are stable across runs.
func (s *Scanner) Scan(ctx context.Context, roots []string) (*Result, error) {
	result := &Result{}

	seen := make(map[string]bool)
	var candidates []string

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("root missing: %s", root))
			continue
		}
		if !info.IsDir() {
			result.Errors = append(result.Errors, fmt.Sprintf("root is not a directory: %s", root))
			continue
		}

		util.InfoLog("Scanning root: %s", root)
		paths, warnings, err := s.walkRoot(ctx, root)
		if err != nil {
			return nil, err
		}
		result.Warnings = append(result.Warnings, warnings...)
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				candidates = append(candidates, p)
			}
		}
	}

	files, warnings, err := s.collect(ctx, candidates)
	if err != nil {
		return nil, err
	}
	result.Files = files
	result.Warnings = append(result.Warnings, warnings...)

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].WinPath < result.Files[j].WinPath
	})

	util.SuccessLog("Scan complete: %d files, %d warnings", len(result.Files), len(result.Warnings))
	return result, nil
}

// walkRoot walks one root, retrying directories whose listing failed up to
// retryCount extra passes
func (s *Scanner) walkRoot(ctx context.Context, root string) ([]string, []string, error) {
	var paths []string
	var warnings []string
	failedDirs := make(map[string]bool)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			failedDirs[path] = true
			warnings = append(warnings, fmt.Sprintf("walk failed: root=%s path=%s :: %v", root, path, err))
			return nil // continue walking
		}
		if d.IsDir() {
			return nil
		}
		if s.matchesExtension(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("walk error: %w", walkErr)
	}

	unresolved := failedDirs
	for attempt := 1; attempt <= s.retryCount && len(unresolved) > 0; attempt++ {
		targets := make([]string, 0, len(unresolved))
		for dir := range unresolved {
			targets = append(targets, dir)
		}
		sort.Strings(targets)
		unresolved = make(map[string]bool)

		for _, target := range targets {
			info, err := os.Stat(target)
			if err != nil || !info.IsDir() {
				warnings = append(warnings, fmt.Sprintf("walk retry skipped: root=%s path=%s reason=not_directory", root, target))
				continue
			}
			err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err != nil {
					unresolved[path] = true
					warnings = append(warnings, fmt.Sprintf("walk retry failed: root=%s path=%s attempt=%d/%d :: %v",
						root, path, attempt, s.retryCount, err))
					return nil
				}
				if d.IsDir() {
					return nil
				}
				if s.matchesExtension(path) {
					paths = append(paths, path)
				}
				return nil
			})
			if err != nil {
				return nil, nil, fmt.Errorf("walk error: %w", err)
			}
		}
	}
	if len(unresolved) > 0 {
		warnings = append(warnings, fmt.Sprintf("walk unresolved: root=%s dirs=%d", root, len(unresolved)))
	}

	return paths, warnings, nil
}

// collect stats and probes the candidate paths through a worker pool
func (s *Scanner) collect(ctx context.Context, candidates []string) ([]*ScannedFile, []string, error) {
	files := make([]*ScannedFile, len(candidates))
	warnings := make([]string, 0)

	var warnMutex sync.Mutex
	var processed atomic.Int64

	isTTY := util.IsTerminal(os.Stdout.Fd())
	var bar *progressbar.ProgressBar
	if isTTY && !util.IsQuiet() && len(candidates) > 0 {
		bar = progressbar.NewOptions(len(candidates),
			progressbar.OptionSetDescription("Probing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	jobs := make(chan int, 100)
	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				sf, warn := s.probe(candidates[idx])
				if warn != "" {
					warnMutex.Lock()
					warnings = append(warnings, warn)
					warnMutex.Unlock()
				}
				files[idx] = sf

				processed.Add(1)
				if bar != nil {
					bar.Set64(processed.Load())
				}
			}
		}()
	}

	for i := range candidates {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}

	out := make([]*ScannedFile, 0, len(files))
	for _, sf := range files {
		if sf != nil {
			out = append(out, sf)
		}
	}
	return out, warnings, nil
}

// probe stats one file and runs the corruption check. A stat failure is a
// warning, not an error; the file is dropped from the result.
func (s *Scanner) probe(path string) (*ScannedFile, string) {
	info, err := util.RetryableStat(path, nil)
	if err != nil {
		return nil, fmt.Sprintf("stat failed: %s :: %v", path, err)
	}

	winPath := identity.PosixToWindows(path)
	drive, dir, name, ext := identity.SplitWindows(winPath)

	sf := &ScannedFile{
		LocalPath: path,
		WinPath:   winPath,
		Drive:     drive,
		Dir:       dir,
		Name:      name,
		Ext:       ext,
		SizeBytes: info.Size(),
		MtimeUTC:  info.ModTime().UTC().Format(time.RFC3339),
	}

	if s.detectCorruption {
		if info.Size() == 0 {
			sf.Corrupt = true
			sf.CorruptReason = "size_zero"
		} else if err := s.readHead(path); err != nil {
			sf.Corrupt = true
			sf.CorruptReason = fmt.Sprintf("read_failed:%v", err)
		}
	}

	return sf, ""
}

// readHead reads the first readBytes of a file to catch dead sectors early
func (s *Scanner) readHead(path string) error {
	f, err := util.RetryableOpen(path, nil)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, s.readBytes)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return err
	}
	return nil
}

// matchesExtension checks if a file has a configured extension
func (s *Scanner) matchesExtension(path string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}

// CorruptCount returns the number of corrupt candidates in the result
func (r *Result) CorruptCount() int {
	n := 0
	for _, f := range r.Files {
		if f.Corrupt {
			n++
		}
	}
	return n
}
