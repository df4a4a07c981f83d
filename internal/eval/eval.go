// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package eval scores the quality of a run's accepted requirements and
// classifies its dominant failure, if any.
package eval

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pdiddy/compliance-engine/internal/dedup"
	"github.com/pdiddy/compliance-engine/internal/schema"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// Input is everything the evaluator reads.
type Input struct {
	Requirements  []types.Requirement
	Fragments     []types.Fragment
	Pass          int
	PromptVersion string
	SchemaMap     *types.SchemaMap

	// DedupThreshold defaults to dedup.DefaultThreshold.
	DedupThreshold float64

	// Now stamps the report; zero means time.Now.
	Now time.Time
}

// Confidence distribution tiers, highest first.
var confidenceTiers = []struct {
	Label string
	Min   float64
}{
	{"0.90-0.99", 0.90},
	{"0.80-0.89", 0.80},
	{"0.70-0.79", 0.70},
	{"0.60-0.69", 0.60},
	{"0.50-0.59", 0},
}

var vagueTerms = []string{"appropriate", "reasonable", "adequate", "sufficient", "as needed"}

// Evaluate builds the quality report for in.
func Evaluate(in Input) types.EvalReport {
	reqs := in.Requirements
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	pass := in.Pass
	if pass < 1 {
		pass = 1
	}

	r := types.EvalReport{
		TotalRequirements:      len(reqs),
		RequirementsByType:     map[types.RuleType]int{},
		ConfidenceDistribution: map[string]int{},
		SchemaCoverage:         map[string]int{},
		EvalTimestamp:          now.UTC().Format(time.RFC3339),
		ExtractionPass:         pass,
		PromptVersion:          in.PromptVersion,
	}

	r.TotalFragments, r.FragmentsProcessed, r.FragmentsWithZero, r.CoverageRatio = Coverage(in.Fragments, reqs)

	for _, tier := range confidenceTiers {
		r.ConfidenceDistribution[tier.Label] = 0
	}
	var sum float64
	for _, req := range reqs {
		r.RequirementsByType[req.RuleType]++
		r.ConfidenceDistribution[tierOf(req.Confidence)]++
		sum += req.Confidence

		if issue, ok := Testability(req); ok {
			r.TestabilityIssues = append(r.TestabilityIssues, issue)
		}
		if issue, ok := Grounding(req); ok {
			r.GroundingIssues = append(r.GroundingIssues, issue)
		}
		if flag, ok := Hallucination(req); ok {
			r.HallucinationFlags = append(r.HallucinationFlags, flag)
		}
		if issue, ok := SchemaCompliance(req); ok {
			r.SchemaComplianceIssues = append(r.SchemaComplianceIssues, issue)
		}
	}
	if len(reqs) > 0 {
		r.AvgConfidence = sum / float64(len(reqs))
	}

	threshold := in.DedupThreshold
	if threshold <= 0 {
		threshold = dedup.DefaultThreshold
	}
	r.PotentialDuplicates = dedup.Pairs(reqs, threshold)
	r.UniqueCount = len(dedup.Deduplicate(reqs, threshold))
	r.DedupRatio = 1.0
	if len(reqs) > 0 {
		r.DedupRatio = float64(r.UniqueCount) / float64(len(reqs))
	}

	if in.SchemaMap != nil {
		r.SchemaEntities = len(in.SchemaMap.Entities)
		r.SchemaCoverage = SchemaCoverage(reqs, in.SchemaMap)
	}

	r.FailureType, r.FailureSeverity, r.IsRetryable = Classify(r)
	r.Suggestions = Suggestions(r)
	r.OverallQualityScore = OverallScore(r)
	return r
}

func tierOf(conf float64) string {
	for _, tier := range confidenceTiers {
		if conf >= tier.Min {
			return tier.Label
		}
	}
	return confidenceTiers[len(confidenceTiers)-1].Label
}

// Coverage reports how many fragments are cited by at least one requirement.
// Zero-extraction fragments are listed in fragment order.
func Coverage(fragments []types.Fragment, reqs []types.Requirement) (total, processed int, zero []string, ratio float64) {
	if len(fragments) == 0 {
		return 0, 0, []string{}, 0
	}
	cited := map[string]bool{}
	for _, req := range reqs {
		if id := req.Metadata.SourceChunkID; id != "" {
			cited[id] = true
		}
	}
	zero = []string{}
	for _, f := range fragments {
		if !cited[f.ID] {
			zero = append(zero, f.ID)
		}
	}
	return len(fragments), len(cited), zero, float64(len(cited)) / float64(len(fragments))
}

// Testability flags requirements that lack a measurable pass/fail condition.
func Testability(req types.Requirement) (types.TestabilityIssue, bool) {
	var issues []string
	a := req.Attributes
	has := func(name string) bool { return types.HasAttribute(a, name) }
	desc := strings.ToLower(req.Description)

	switch req.RuleType {
	case types.RuleDataQualityThreshold:
		if !has("threshold_value") && !has("metric_type") && !has("metric") {
			issues = append(issues, "missing metric definition")
		}
		if !has("threshold_value") {
			issues = append(issues, "missing threshold_value (cannot test)")
		}
	case types.RuleDocumentationRequirement:
		if !has("document_type") && !has("documentation_type") {
			issues = append(issues, "missing documentation_type")
		}
		if !has("required_by") && !has("applies_when") {
			issues = append(issues, "missing trigger condition (applies_when)")
		}
	case types.RuleUpdateTimeline:
		if !has("timeline_value") && !has("threshold_value") {
			issues = append(issues, "missing timeline value")
		}
	case types.RuleUpdateRequirement:
		if !has("update_frequency") && !has("applies_when") {
			issues = append(issues, "missing update frequency")
		}
	case types.RuleBeneficialOwnershipThreshold:
		if !has("threshold_value") {
			issues = append(issues, "missing ownership threshold value")
		}
	}

	if (strings.HasPrefix(desc, "a ") && strings.Contains(desc, " means ")) || strings.HasPrefix(desc, "the term ") {
		issues = append(issues, "appears to be a definition, not an obligation")
	}
	if containsAny(desc, vagueTerms) && !strings.ContainsFunc(desc, unicode.IsDigit) {
		issues = append(issues, "vague language without quantification")
	}

	if len(issues) == 0 {
		return types.TestabilityIssue{}, false
	}
	sev := types.SeverityMedium
	if len(issues) > 1 {
		sev = types.SeverityHigh
	}
	return types.TestabilityIssue{RequirementID: req.ID, Issues: issues, Severity: sev}, true
}

// Grounding flags requirements whose citation is missing or weak.
func Grounding(req types.Requirement) (types.GroundingIssue, bool) {
	var issues []string
	missing := strings.TrimSpace(req.GroundedIn) == ""
	if missing {
		issues = append(issues, "missing grounded_in citation")
	}

	class := req.Classification()
	if class == types.GroundingInference {
		issues = append(issues, "grounding classified as INFERENCE (weak source match)")
	}

	var match float64
	if req.Score != nil {
		match = req.Score.Features.GroundingMatch
	}
	if match < 0.10 {
		issues = append(issues, fmt.Sprintf("very low grounding match (%.2f)", match))
	}

	pass, conf := req.Metadata.ExtractionPass, req.Confidence
	if pass < 2 && conf < 0.70 {
		issues = append(issues, fmt.Sprintf("low confidence (%.2f) on first pass", conf))
	}
	if pass >= 2 && conf < 0.75 {
		issues = append(issues, fmt.Sprintf("low confidence (%.2f) on retry pass %d", conf, pass))
	}

	if len(issues) == 0 {
		return types.GroundingIssue{}, false
	}
	sev := types.SeverityMedium
	if missing || conf < 0.60 {
		sev = types.SeverityHigh
	}
	return types.GroundingIssue{RequirementID: req.ID, Issues: issues, Severity: sev, Classification: class}, true
}

// Hallucination grades fabrication risk by confidence tier, with stricter
// tiers on the retry pass.
func Hallucination(req types.Requirement) (types.HallucinationFlag, bool) {
	var flags []string
	risk := types.SeverityLow
	conf, pass := req.Confidence, req.Metadata.ExtractionPass

	if pass < 2 {
		switch {
		case conf < 0.60:
			flags = append(flags, fmt.Sprintf("Confidence %.2f critically low on first pass", conf))
			risk = types.SeverityCritical
		case conf < 0.70:
			flags = append(flags, fmt.Sprintf("Confidence %.2f below safe threshold on first pass", conf))
			risk = types.SeverityHigh
		case conf < 0.80:
			flags = append(flags, fmt.Sprintf("Moderate inference (%.2f); recommend human review", conf))
			risk = types.SeverityMedium
		}
	} else {
		switch {
		case conf < 0.70:
			flags = append(flags, fmt.Sprintf("Retry pass: confidence %.2f critically low", conf))
			risk = types.SeverityCritical
		case conf < 0.75:
			flags = append(flags, fmt.Sprintf("Retry pass: confidence %.2f still below retry threshold (0.75)", conf))
			risk = types.SeverityHigh
		case conf < 0.85:
			flags = append(flags, fmt.Sprintf("Retry pass: moderate inference (%.2f); borderline", conf))
			risk = types.SeverityMedium
		}
	}

	if req.Classification() == types.GroundingInference {
		flags = append(flags, "Grounding classified as INFERENCE (potential fabrication)")
		if risk == types.SeverityLow {
			risk = types.SeverityMedium
		}
	}

	if len(flags) == 0 {
		return types.HallucinationFlag{}, false
	}
	if pass < 1 {
		pass = 1
	}
	return types.HallucinationFlag{RequirementID: req.ID, Flags: flags, Risk: risk, Confidence: conf, Pass: pass}, true
}

// SchemaCompliance validates the public attributes against the canonical
// schema of the rule type.
func SchemaCompliance(req types.Requirement) (types.SchemaComplianceIssue, bool) {
	res := schema.ValidateCanonical(req.RuleType, types.OutputAttributes(req.Attributes))
	if res.Valid {
		return types.SchemaComplianceIssue{}, false
	}

	missing, invalid := []string{}, []string{}
	for _, e := range res.Errors {
		if field, ok := strings.CutPrefix(e, "Missing:"); ok {
			missing = append(missing, strings.TrimSpace(field))
		} else {
			invalid = append(invalid, e)
		}
	}
	invalid = append(invalid, res.Warnings...)

	sev := types.SeverityLow
	switch {
	case len(missing) >= 2:
		sev = types.SeverityHigh
	case len(missing) == 1:
		sev = types.SeverityMedium
	}
	return types.SchemaComplianceIssue{
		RequirementID: req.ID,
		RuleType:      req.RuleType,
		MissingFields: missing,
		InvalidFields: invalid,
		Severity:      sev,
	}, true
}

// SchemaCoverage counts requirements that mention each schema entity label
// in their description or attributes.
func SchemaCoverage(reqs []types.Requirement, sm *types.SchemaMap) map[string]int {
	coverage := map[string]int{}
	if sm == nil {
		return coverage
	}
	texts := make([]string, len(reqs))
	for i, req := range reqs {
		texts[i] = strings.ToLower(req.Description + " " + fmt.Sprint(types.OutputAttributes(req.Attributes)))
	}
	for _, e := range sm.Entities {
		label := strings.ToLower(e.Label)
		n := 0
		for _, text := range texts {
			if label != "" && strings.Contains(text, label) {
				n++
			}
		}
		coverage[e.Label] = n
	}
	return coverage
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
