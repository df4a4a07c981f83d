// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eval

import (
	"fmt"
	"math"
	"strings"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// Failure limits.
const (
	minCoverage          = 0.60
	maxTestability       = 5
	maxGrounding         = 3
	maxHighSchema        = 3
	minDedupRatio        = 0.70
	maxHighHallucination = 3
	maxSuggestedFields   = 5
)

// AllPassed is the only suggestion when no check fails.
const AllPassed = "All checks passed. Requirements ready for downstream processing."

// Classify names the dominant failure of r, its severity, and whether a
// retry pass is worthwhile. Only coverage and dedup failures on the first
// pass are retryable; testability and hallucination failures never are.
func Classify(r types.EvalReport) (types.FailureType, types.Severity, bool) {
	severity := types.SeverityLow
	retryable := false
	firstPass := r.ExtractionPass < 2
	var active []types.FailureType

	atLeastMedium := func() {
		if severity == types.SeverityLow {
			severity = types.SeverityMedium
		}
	}

	if r.CoverageRatio < minCoverage {
		active = append(active, types.FailureCoverage)
		severity = types.SeverityHigh
		retryable = firstPass
	}
	if len(r.TestabilityIssues) > maxTestability {
		active = append(active, types.FailureTestability)
		severity = types.SeverityHigh
		retryable = false
	}
	if len(r.GroundingIssues) > maxGrounding {
		active = append(active, types.FailureGrounding)
		atLeastMedium()
	}
	if countSeverity(r.SchemaComplianceIssues) > maxHighSchema {
		active = append(active, types.FailureSchema)
		atLeastMedium()
	}
	if r.DedupRatio < minDedupRatio {
		active = append(active, types.FailureDedup)
		atLeastMedium()
		retryable = firstPass
	}

	critical, high := 0, 0
	for _, h := range r.HallucinationFlags {
		switch h.Risk {
		case types.SeverityCritical:
			critical++
		case types.SeverityHigh:
			high++
		}
	}
	switch {
	case critical > 0:
		active = append(active, types.FailureHallucination)
		severity = types.SeverityCritical
		retryable = false
	case high > maxHighHallucination:
		active = append(active, types.FailureHallucination)
		severity = types.SeverityHigh
		retryable = false
	}

	switch len(active) {
	case 0:
		return types.FailureNone, severity, retryable
	case 1:
		return active[0], severity, retryable
	}
	if severity != types.SeverityCritical {
		severity = types.SeverityHigh
	}
	return types.FailureMulti, severity, retryable
}

func countSeverity(issues []types.SchemaComplianceIssue) int {
	n := 0
	for _, i := range issues {
		if i.Severity == types.SeverityHigh {
			n++
		}
	}
	return n
}

// Suggestions returns remediation advice for each weak area of r.
func Suggestions(r types.EvalReport) []string {
	var out []string

	switch {
	case r.CoverageRatio < minCoverage:
		out = append(out, fmt.Sprintf("Coverage ratio %s too low. Retry with broader rule extraction "+
			"(relax confidence threshold or expand rule_type scope).", percent(r.CoverageRatio)))
	case r.CoverageRatio < 0.80:
		out = append(out, fmt.Sprintf("Coverage ratio %s below target. Review chunks with zero extractions.",
			percent(r.CoverageRatio)))
	}

	if n := len(r.TestabilityIssues); n > 0 {
		out = append(out, fmt.Sprintf("Testability issues found (%d). Review rule descriptions; "+
			"ensure each has measurable pass/fail condition. Require threshold_value for data_quality rules.", n))
	}
	if n := len(r.GroundingIssues); n > 0 {
		out = append(out, fmt.Sprintf("Grounding issues (%d). Verify grounded_in cites source text; "+
			"ensure confidence scores reflect actual inference level.", n))
	}

	if n := len(r.SchemaComplianceIssues); n > 0 {
		var fields []string
		seen := map[string]bool{}
		for _, issue := range r.SchemaComplianceIssues {
			for _, f := range issue.MissingFields {
				if !seen[f] {
					seen[f] = true
					fields = append(fields, f)
				}
			}
		}
		if len(fields) > 0 {
			if len(fields) > maxSuggestedFields {
				fields = fields[:maxSuggestedFields]
			}
			out = append(out, fmt.Sprintf("Schema compliance issues (%d). Missing fields: %s. "+
				"Update prompt to require these fields.", n, strings.Join(fields, ", ")))
		}
	}

	if r.DedupRatio < minDedupRatio {
		out = append(out, fmt.Sprintf("Deduplication ratio %s suggests content repetition. "+
			"Review potential duplicates; merge or remove lower-confidence variants.", percent(r.DedupRatio)))
	}

	if n := len(r.HallucinationFlags); n > 0 {
		critical := 0
		for _, h := range r.HallucinationFlags {
			if h.Risk == types.SeverityCritical {
				critical++
			}
		}
		if critical > 0 {
			out = append(out, fmt.Sprintf("CRITICAL: %d requirements flagged for potential hallucination. "+
				"Manual review required before proceeding.", critical))
		} else {
			out = append(out, fmt.Sprintf("Hallucination risk detected (%d flags). "+
				"Review low-confidence requirements; consider stricter extraction.", n))
		}
	}

	if len(out) == 0 {
		out = append(out, AllPassed)
	}
	return out
}

func percent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// OverallScore is the weighted quality score of r in [0, 1], less a
// penalty of 0.05 per hallucination flag (at most 0.30). A report without
// requirements scores 0.
func OverallScore(r types.EvalReport) float64 {
	n := r.TotalRequirements
	if n == 0 {
		return 0
	}
	ratio := func(issues int) float64 {
		return 1.0 - math.Min(1.0, float64(issues)/float64(n))
	}
	penalty := math.Min(0.30, 0.05*float64(len(r.HallucinationFlags)))

	score := 0.25*r.CoverageRatio +
		0.25*r.AvgConfidence +
		0.15*r.DedupRatio +
		0.15*ratio(len(r.TestabilityIssues)) +
		0.10*ratio(len(r.GroundingIssues)) +
		0.10*ratio(len(r.SchemaComplianceIssues)) -
		penalty
	return math.Max(0, math.Min(1, score))
}
