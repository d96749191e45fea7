// Package dedup groups duplicate recordings by episode identity, picks the
// best copy per broadcast bucket and plans quarantine moves for the rest.
package dedup

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
)

// MetadataSource is the metadata provenance the candidate set is read from
const MetadataSource = store.SourceLLM

// Candidate is one recording considered for deduplication
type Candidate struct {
	PathID          string
	Path            string
	GroupKey        string
	Confidence      float64
	NeedsReview     bool
	ProgramTitle    string
	AirDate         string
	EpisodeNo       string
	Subtitle        string
	Bucket          string
	BucketReason    string
	SizeBytes       int64
	MtimeUTC        string
	ResolutionScore int
	NotCorrupt      bool
}

// PlanRow is one dedup plan artifact line. Drop rows carry the quarantine
// destination the mover should use.
type PlanRow struct {
	GroupKey     string  `json:"group_key"`
	PathID       string  `json:"path_id"`
	Path         string  `json:"path"`
	Dst          string  `json:"dst,omitempty"`
	Bucket       string  `json:"bucket"`
	Decision     string  `json:"decision"` // keep, drop, manual_review_required
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
	NeedsReview  bool    `json:"needs_review"`
	BucketReason string  `json:"bucket_reason"`
	TS           string  `json:"ts"`
}

// Planner builds dedup plans from stored metadata and observations
type Planner struct {
	store               *store.Store
	rules               *BucketRules
	quarantineRoot      string
	confidenceThreshold float64
	allowNeedsReview    bool
	splitByBroadcast    bool
	maxGroups           int
}

// PlannerConfig holds dedup planner configuration
type PlannerConfig struct {
	Store               *store.Store
	Rules               *BucketRules
	QuarantineRoot      string // native-form root under which dropped copies land
	ConfidenceThreshold float64
	AllowNeedsReview    bool
	SplitByBroadcast    bool // keep one copy per broadcast bucket
	MaxGroups           int  // 0 means unlimited
}

// NewPlanner creates a dedup Planner
func NewPlanner(cfg *PlannerConfig) *Planner {
	rules := cfg.Rules
	if rules == nil {
		rules = &BucketRules{}
	}
	return &Planner{
		store:               cfg.Store,
		rules:               rules,
		quarantineRoot:      cfg.QuarantineRoot,
		confidenceThreshold: cfg.ConfidenceThreshold,
		allowNeedsReview:    cfg.AllowNeedsReview,
		splitByBroadcast:    cfg.SplitByBroadcast,
		maxGroups:           cfg.MaxGroups,
	}
}

// Plan is the outcome of one dedup planning pass
type Plan struct {
	Rows  []*PlanRow
	Drops []*PlanRow

	GroupsTotal            int
	GroupsAutoProcessed    int
	GroupsManualReview     int
	GroupsSplitByBroadcast int
	FilesKept              int
	FilesDropped           int
	DroppedForMissingKey   int
	Errors                 []string
}

// Build loads the candidate set and decides keep/drop per group. Groups are
// processed in sorted key order so two runs over the same store agree.
func (p *Planner) Build() (*Plan, error) {
	plan := &Plan{}

	mdRows, err := p.store.MetadataBySource(MetadataSource)
	if err != nil {
		return nil, err
	}
	observations, err := p.store.LatestObservations()
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*Candidate)
	for _, row := range mdRows {
		c, reason := p.buildCandidate(row, observations)
		if c == nil {
			if reason == "invalid_metadata_json" {
				plan.Errors = append(plan.Errors, fmt.Sprintf("invalid metadata json: path_id=%s", row.PathID))
			} else {
				plan.DroppedForMissingKey++
			}
			continue
		}
		grouped[c.GroupKey] = append(grouped[c.GroupKey], c)
	}

	var groupKeys []string
	for gk, arr := range grouped {
		if len(arr) > 1 {
			groupKeys = append(groupKeys, gk)
		}
	}
	sort.Strings(groupKeys)
	if p.maxGroups > 0 && len(groupKeys) > p.maxGroups {
		groupKeys = groupKeys[:p.maxGroups]
	}
	plan.GroupsTotal = len(groupKeys)

	for _, gk := range groupKeys {
		p.planGroup(plan, gk, grouped[gk])
	}

	util.InfoLog("Dedup plan: %d groups, %d kept, %d dropped, %d manual review",
		plan.GroupsTotal, plan.FilesKept, plan.FilesDropped, plan.GroupsManualReview)
	return plan, nil
}

func (p *Planner) buildCandidate(row *store.MetadataWithPath, observations map[string]*store.Observation) (*Candidate, string) {
	var md map[string]any
	if err := json.Unmarshal([]byte(row.DataJSON), &md); err != nil {
		return nil, "invalid_metadata_json"
	}

	groupKey, reason := BuildGroupKey(md)
	if groupKey == "" {
		return nil, reason
	}

	path := identity.CanonicalizeWindowsPath(row.Path)
	evidenceRaw := ""
	if ev, ok := md["evidence"].(map[string]any); ok {
		evidenceRaw, _ = ev["raw"].(string)
	}
	bucket, bucketReason := p.rules.Classify(
		str(md["broadcast_bucket"]), str(md["broadcaster"]), str(md["channel"]), path, evidenceRaw)

	c := &Candidate{
		PathID:          row.PathID,
		Path:            path,
		GroupKey:        groupKey,
		Confidence:      parseConfidence(md["confidence"]),
		NeedsReview:     md["needs_review"] == true,
		ProgramTitle:    str(md["program_title"]),
		AirDate:         str(md["air_date"]),
		EpisodeNo:       str(md["episode_no"]),
		Subtitle:        str(md["subtitle"]),
		Bucket:          bucket,
		BucketReason:    bucketReason,
		ResolutionScore: parseResolutionScore(md["resolution"]),
	}

	// Rank on the newest recorded observation; a never-observed or
	// zero-size path counts as corrupt so it loses ties.
	if o := observations[row.PathID]; o != nil {
		c.SizeBytes = o.SizeBytes
		c.MtimeUTC = o.MtimeUTC
		c.NotCorrupt = o.SizeBytes > 0
	}
	return c, ""
}

func (p *Planner) planGroup(plan *Plan, gk string, arr []*Candidate) {
	var eligible []*Candidate
	for _, c := range arr {
		if (p.allowNeedsReview || !c.NeedsReview) && c.Confidence >= p.confidenceThreshold {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) < 2 {
		plan.GroupsManualReview++
		p.markManualReview(plan, gk, arr, "low_confidence_or_needs_review")
		return
	}

	type cohort struct {
		bucket  string
		members []*Candidate
	}
	var cohorts []cohort
	if p.splitByBroadcast {
		byBucket := map[string][]*Candidate{}
		for _, c := range eligible {
			byBucket[c.Bucket] = append(byBucket[c.Bucket], c)
		}
		// A group mixing unknown with classified copies cannot be split
		// safely; hand the whole group to a human.
		if len(byBucket[BucketUnknown]) > 0 && (len(byBucket[BucketTerrestrial]) > 0 || len(byBucket[BucketBSCS]) > 0) {
			plan.GroupsManualReview++
			p.markManualReview(plan, gk, arr, "unknown_bucket_mixed")
			return
		}
		if len(byBucket[BucketTerrestrial]) > 0 && len(byBucket[BucketBSCS]) > 0 {
			plan.GroupsSplitByBroadcast++
		}
		for _, b := range []string{BucketTerrestrial, BucketBSCS, BucketUnknown} {
			if len(byBucket[b]) > 0 {
				cohorts = append(cohorts, cohort{b, byBucket[b]})
			}
		}
	} else {
		cohorts = append(cohorts, cohort{"all", eligible})
	}

	groupHasDrop := false
	for _, co := range cohorts {
		bucketName := co.bucket

		if len(co.members) == 1 {
			plan.FilesKept++
			plan.Rows = append(plan.Rows, rowFor(gk, co.members[0], "keep", "single_in_bucket:"+bucketName))
			continue
		}

		keep := ChooseKeep(co.members)
		plan.FilesKept++
		plan.Rows = append(plan.Rows, rowFor(gk, keep, "keep", "best_ranked:"+bucketName))
		for _, c := range co.members {
			if c.PathID == keep.PathID {
				continue
			}
			groupHasDrop = true
			plan.FilesDropped++
			row := rowFor(gk, c, "drop", "lower_rank_in_bucket:"+bucketName)
			if p.quarantineRoot != "" {
				row.Dst = QuarantineDst(p.quarantineRoot, gk, c.Path)
			}
			plan.Rows = append(plan.Rows, row)
			plan.Drops = append(plan.Drops, row)
		}
	}
	if groupHasDrop {
		plan.GroupsAutoProcessed++
	}
}

func (p *Planner) markManualReview(plan *Plan, gk string, arr []*Candidate, reason string) {
	for _, c := range arr {
		plan.Rows = append(plan.Rows, rowFor(gk, c, "manual_review_required", reason))
	}
}

func rowFor(gk string, c *Candidate, decision, reason string) *PlanRow {
	return &PlanRow{
		GroupKey:     gk,
		PathID:       c.PathID,
		Path:         c.Path,
		Bucket:       c.Bucket,
		Decision:     decision,
		Reason:       reason,
		Confidence:   c.Confidence,
		NeedsReview:  c.NeedsReview,
		BucketReason: c.BucketReason,
		TS:           store.NowISO(),
	}
}

// ChooseKeep ranks a cohort and returns the copy to keep. The order is a
// total order: corruption, then resolution, size and mtime descending, then
// path ascending as the final tiebreak.
func ChooseKeep(candidates []*Candidate) *Candidate {
	ranked := make([]*Candidate, len(candidates))
	copy(ranked, candidates)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.NotCorrupt != b.NotCorrupt {
			return a.NotCorrupt
		}
		if a.ResolutionScore != b.ResolutionScore {
			return a.ResolutionScore > b.ResolutionScore
		}
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes > b.SizeBytes
		}
		if a.MtimeUTC != b.MtimeUTC {
			return a.MtimeUTC > b.MtimeUTC
		}
		return a.Path < b.Path
	})
	return ranked[0]
}

var subtitleSpaceRe = regexp.MustCompile(`\s+`)

// NormalizeSubtitle folds a subtitle for use in group keys
func NormalizeSubtitle(s string) string {
	return subtitleSpaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// BuildGroupKey derives the duplicate group key from a metadata document.
// Episode number wins over subtitle; a document with neither cannot be
// grouped and the reason says why.
func BuildGroupKey(md map[string]any) (key, reason string) {
	base := strings.TrimSpace(str(md["normalized_program_key"]))
	if base == "" {
		return "", "missing_normalized_program_key"
	}
	if ep := strings.TrimSpace(str(md["episode_no"])); ep != "" {
		return base + "::ep::" + ep, ""
	}
	if sub := strings.TrimSpace(str(md["subtitle"])); sub != "" {
		return base + "::sub::" + NormalizeSubtitle(sub), ""
	}
	return "", "missing_episode_and_subtitle"
}

var (
	groupKeyUnsafeRe   = regexp.MustCompile(`[^0-9A-Za-z._-]+`)
	groupKeyCollapseRe = regexp.MustCompile(`_+`)
)

// SafeGroupKey folds a group key into a quarantine directory name
func SafeGroupKey(s string) string {
	x := groupKeyUnsafeRe.ReplaceAllString(s, "_")
	x = strings.Trim(groupKeyCollapseRe.ReplaceAllString(x, "_"), "._-")
	if x == "" {
		return "group"
	}
	if len(x) > 120 {
		x = x[:120]
	}
	return x
}

// QuarantineDst computes where a dropped copy goes:
// <quarantine root>\<safe group key>\<basename>
func QuarantineDst(quarantineRoot, groupKey, srcWinPath string) string {
	name := srcWinPath
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	return identity.CanonicalizeWindowsPath(
		strings.TrimRight(quarantineRoot, "\\") + "\\" + SafeGroupKey(groupKey) + "\\" + name)
}

// str renders a metadata value the way it would print, so numeric episode
// numbers and string ones compare equal
func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func parseConfidence(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

var resolutionRe = regexp.MustCompile(`(\d+)\s*[xX]\s*(\d+)`)

func parseResolutionScore(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		m := resolutionRe.FindStringSubmatch(x)
		if m == nil {
			return 0
		}
		w, err1 := strconv.Atoi(m[1])
		h, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			return 0
		}
		return w * h
	default:
		return 0
	}
}
