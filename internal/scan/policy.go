package scan

import (
	"fmt"

	"github.com/franz/mediaops/internal/util"
)

// Scan warning policy modes
const (
	PolicyWarn      = "warn"
	PolicyFail      = "fail"
	PolicyThreshold = "threshold"
)

// WarningPolicy decides whether scan warnings escalate to batch errors
type WarningPolicy struct {
	Mode      string
	Threshold int // max tolerated warnings in threshold mode
}

// ParseWarningPolicy validates a configured policy mode
func ParseWarningPolicy(mode string, threshold int) (WarningPolicy, error) {
	switch mode {
	case "":
		mode = PolicyWarn
	case PolicyWarn, PolicyFail, PolicyThreshold:
	default:
		return WarningPolicy{}, fmt.Errorf("unknown scan error policy %q: %w", mode, util.ErrInvalidConfig)
	}
	return WarningPolicy{Mode: mode, Threshold: threshold}, nil
}

// Check applies the policy to a scan's warning count. The returned strings
// are batch errors; an empty slice means the warnings are tolerated.
func (p WarningPolicy) Check(warningCount int) []string {
	var errs []string
	switch p.Mode {
	case PolicyFail:
		if warningCount > 0 {
			errs = append(errs, fmt.Sprintf("scan warnings treated as fatal by policy=fail: count=%d", warningCount))
		}
	case PolicyThreshold:
		if p.Threshold <= 0 {
			errs = append(errs, "scan error threshold must be > 0 when policy=threshold")
		} else if warningCount > p.Threshold {
			errs = append(errs, fmt.Sprintf("scan warnings exceeded threshold: %d > %d", warningCount, p.Threshold))
		}
	}
	return errs
}
