// Package placement computes where a recording belongs under the managed
// destination tree and plans the moves to get it there.
package placement

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Skip/error reasons used in plan rows
const (
	ReasonUnregistered    = "unregistered_path"
	ReasonMissingMetadata = "missing_metadata"
	ReasonInvalidContract = "invalid_metadata_contract"
	ReasonNeedsReview     = "needs_review"
	ReasonAlreadyCorrect  = "already_correct"
	ReasonRecompute       = "recompute_destination"
)

// Contract is the metadata subset placement requires. All three fields must
// be present in the stored document and needs_review must be a bool.
type Contract struct {
	ProgramTitle string
	AirDate      string
	NeedsReview  bool
}

// ParseContract decodes a stored metadata document and validates the
// placement contract. A document that is not an object or is missing a
// required key yields (nil, false).
func ParseContract(dataJSON string) (*Contract, bool) {
	var md map[string]any
	if err := json.Unmarshal([]byte(dataJSON), &md); err != nil {
		return nil, false
	}
	for _, k := range []string{"program_title", "air_date", "needs_review"} {
		if _, ok := md[k]; !ok {
			return nil, false
		}
	}
	needsReview, ok := md["needs_review"].(bool)
	if !ok {
		return nil, false
	}
	title, _ := md["program_title"].(string)
	airDate, _ := md["air_date"].(string)
	return &Contract{ProgramTitle: title, AirDate: airDate, NeedsReview: needsReview}, true
}

// NeedsQueue reports whether the metadata behind a path should be handed to
// the metadata collaborator again
func NeedsQueue(c *Contract, valid bool) bool {
	if !valid || c == nil {
		return true
	}
	return c.NeedsReview || c.ProgramTitle == "" || c.AirDate == ""
}

const maxSafeDirLen = 60

var (
	forbiddenRe = regexp.MustCompile(`[<>:"/\\|?*]`)
	ctrlRe      = regexp.MustCompile(`[\x00-\x1f]`)
	trailRe     = regexp.MustCompile(`[. ]+$`)
	wsRe        = regexp.MustCompile(`[\s\x{3000}]+`)
)

// SafeDirName folds a program title into a directory name safe on every
// filesystem the tree may land on. Long names are truncated with a short
// hash suffix so distinct titles stay distinct.
func SafeDirName(name string) string {
	s := norm.NFKC.String(strings.TrimSpace(name))
	s = ctrlRe.ReplaceAllString(s, "")
	s = forbiddenRe.ReplaceAllString(s, "＿")
	s = wsRe.ReplaceAllString(s, " ")
	s = trailRe.ReplaceAllString(s, "")
	if s == "" {
		return "UNKNOWN"
	}
	if utf8.RuneCountInString(s) > maxSafeDirLen {
		h := fmt.Sprintf("%x", sha1.Sum([]byte(s)))[:8]
		r := []rune(s)
		s = strings.TrimRight(string(r[:maxSafeDirLen-9]), " ") + "_" + h
	}
	return s
}

// ExtractYearMonth pulls the YYYY and MM components out of an air date.
// The reason is empty on success.
func ExtractYearMonth(airDate string) (year, month, reason string) {
	s := strings.TrimSpace(airDate)
	if s == "" {
		return "", "", "missing_air_date"
	}
	parts := strings.SplitN(s, "-", 3)
	if len(parts) < 3 {
		return "", "", "invalid_air_date"
	}
	y, m := parts[0], parts[1]
	if len(y) != 4 || !allDigits(y) || len(m) != 2 || !allDigits(m) {
		return "", "", "invalid_air_date"
	}
	return y, m, ""
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// BuildExpectedDestPath computes the destination a source file should live
// at: <destRoot>\<safe title>\<YYYY>\<MM>\<filename>. The reason is empty
// on success.
func BuildExpectedDestPath(destRoot, srcWinPath string, c *Contract) (dst, reason string) {
	if c == nil {
		return "", ReasonInvalidContract
	}
	if c.ProgramTitle == "" {
		return "", "missing_program_title"
	}
	y, m, reason := ExtractYearMonth(c.AirDate)
	if reason != "" {
		return "", reason
	}

	progDir := SafeDirName(c.ProgramTitle)
	filename := srcWinPath
	if i := strings.LastIndexByte(filename, '\\'); i >= 0 {
		filename = filename[i+1:]
	}
	if filename == "" {
		return "", "missing_filename"
	}
	return strings.TrimRight(destRoot, "\\") + "\\" + progDir + "\\" + y + "\\" + m + "\\" + filename, ""
}
