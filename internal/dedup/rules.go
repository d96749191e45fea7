package dedup

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Broadcast buckets
const (
	BucketTerrestrial = "terrestrial"
	BucketBSCS        = "bs_cs"
	BucketUnknown     = "unknown"
)

// BucketRules maps broadcaster keywords to broadcast buckets. Recordings of
// the same episode from terrestrial and satellite broadcasts are kept apart
// so the split-keep policy can retain one of each.
type BucketRules struct {
	TerrestrialKeywords []string `yaml:"terrestrial_keywords"`
	BSCSKeywords        []string `yaml:"bs_cs_keywords"`
}

// LoadBucketRules reads a bucket rules YAML file
func LoadBucketRules(path string) (*BucketRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket rules: %w", err)
	}
	rules := &BucketRules{}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("failed to parse bucket rules %s: %w", path, err)
	}
	rules.TerrestrialKeywords = cleanKeywords(rules.TerrestrialKeywords)
	rules.BSCSKeywords = cleanKeywords(rules.BSCSKeywords)
	return rules, nil
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var spaceRe = regexp.MustCompile(`\s+`)

// Classify decides the broadcast bucket for one candidate. An explicit
// bucket field in the metadata wins; otherwise keywords are matched against
// the broadcaster, channel, path and raw evidence text, both as-is and with
// whitespace stripped (broadcaster names are often written both ways).
func (r *BucketRules) Classify(explicit, broadcaster, channel, path, evidenceRaw string) (bucket, reason string) {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case BucketTerrestrial:
		return BucketTerrestrial, "explicit_field"
	case BucketBSCS:
		return BucketBSCS, "explicit_field"
	}

	var parts []string
	for _, s := range []string{broadcaster, channel, path, evidenceRaw} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	merged := strings.ToLower(strings.Join(parts, " "))
	mergedNoSpace := spaceRe.ReplaceAllString(merged, "")

	match := func(keywords []string) string {
		for _, kw := range keywords {
			k := strings.ToLower(kw)
			if strings.Contains(merged, k) || strings.Contains(mergedNoSpace, spaceRe.ReplaceAllString(k, "")) {
				return kw
			}
		}
		return ""
	}

	if kw := match(r.TerrestrialKeywords); kw != "" {
		return BucketTerrestrial, "keyword:" + kw
	}
	if kw := match(r.BSCSKeywords); kw != "" {
		return BucketBSCS, "keyword:" + kw
	}
	return BucketUnknown, "no_match"
}
