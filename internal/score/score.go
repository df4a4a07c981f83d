// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package score computes the feature-based confidence of a requirement and
// classifies how faithfully it follows its cited source text.
package score

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/pdiddy/compliance-engine/internal/schema"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// InferenceCap is the highest confidence an INFERENCE requirement may carry.
const InferenceCap = 0.59

// manualReviewJaccard is the Jaccard below which INFERENCE needs review.
const manualReviewJaccard = 0.30

var domainKeywords = []string{
	"fdic", "part 370", "deposit insurance", "insured deposit",
	"beneficial owner", "ownership category", "account holder",
	"recordkeeping", "compliance", "regulatory", "examination",
	"cip", "kyc", "bsa", "aml", "tin", "ssn", "ein",
}

var domainPatterns = compileKeywords(domainKeywords)

var unitKeywords = []string{"percent", "%", "days", "hours", "months", "years", "dollars", "$"}

var negationPairs = [][2]string{
	{"must not", "must"},
	{"shall not", "shall"},
	{"cannot", "can"},
	{"prohibited", "required"},
	{"never", "always"},
}

func compileKeywords(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return out
}

// Score computes the confidence of req from its text and attributes. It
// depends only on description, grounding, rule type and attributes.
func Score(req types.Requirement) types.ConfidenceResult {
	grounding, evidence := GroundingMatch(req.Description, req.GroundedIn)

	features := types.ConfidenceFeatures{
		GroundingMatch:   grounding,
		Completeness:     Completeness(req),
		Quantification:   Quantification(req),
		SchemaCompliance: SchemaCompliance(req),
		Coherence:        Coherence(req.Description, req.GroundedIn),
		DomainSignals:    DomainSignals(req.Description, req.GroundedIn),
	}

	classification := Classify(features.GroundingMatch)
	final := types.ClampConfidence(features.Total())
	review := false
	if classification == types.GroundingInference {
		final = math.Min(final, InferenceCap)
		review = evidence.JaccardScore < manualReviewJaccard
	}

	return types.ConfidenceResult{
		Score:                types.Round(final, 2),
		Features:             features,
		Classification:       classification,
		Evidence:             evidence,
		Rationale:            Rationale(features, evidence),
		RequiresManualReview: review,
	}
}

// Completeness is 0.20 times the share of required attributes present with
// the right type. Types without required attributes score the full 0.20.
func Completeness(req types.Requirement) float64 {
	required := schema.RequiredCount(req.RuleType)
	if required == 0 {
		return 0.20
	}
	_, missing := schema.Validate(req)
	present := required - len(missing)
	return types.Round(0.20*float64(present)/float64(required), 3)
}

// Quantification rewards a numeric threshold (0.10), a unit or direction
// (0.05) and an exception or consequence clause (0.05).
func Quantification(req types.Requirement) float64 {
	desc := strings.ToLower(req.Description)
	a := req.Attributes
	score := 0.0

	hasThreshold := false
	for _, key := range []string{"threshold_value", "threshold"} {
		if _, ok := types.AttributeNumber(a, key); ok {
			hasThreshold = true
			break
		}
	}
	if hasThreshold || numericPattern.MatchString(desc) {
		score += 0.10
	}

	hasUnit := false
	for _, key := range []string{"threshold_unit", "unit", "threshold_direction"} {
		if truthy(a, key) {
			hasUnit = true
			break
		}
	}
	if !hasUnit {
		for _, u := range unitKeywords {
			if strings.Contains(desc, u) {
				hasUnit = true
				break
			}
		}
	}
	if hasUnit {
		score += 0.05
	}

	for _, key := range []string{"exception_threshold", "consequence", "escalation"} {
		if truthy(a, key) {
			score += 0.05
			break
		}
	}

	return types.Round(score, 3)
}

// SchemaCompliance is 0.15 for canonical-valid attributes, 0.08 for a single
// canonical error, otherwise 0.
func SchemaCompliance(req types.Requirement) float64 {
	res := schema.ValidateCanonical(req.RuleType, types.OutputAttributes(req.Attributes))
	switch {
	case res.Valid:
		return 0.15
	case len(res.Errors) <= 1:
		return 0.08
	default:
		return 0
	}
}

// Coherence is 0 when one text negates what the other asserts, 0.05 when
// both cite numbers and none agree, otherwise 0.10.
func Coherence(description, grounding string) float64 {
	d := strings.ToLower(description)
	g := strings.ToLower(grounding)

	for _, pair := range negationPairs {
		neg, pos := pair[0], pair[1]
		if strings.Contains(d, neg) && strings.Contains(g, pos) && !strings.Contains(g, neg) {
			return 0
		}
		if strings.Contains(g, neg) && strings.Contains(d, pos) && !strings.Contains(d, neg) {
			return 0
		}
	}

	dn := numbers(d)
	gn := numbers(g)
	if len(dn) > 0 && len(gn) > 0 {
		shared := false
		for n := range dn {
			if _, ok := gn[n]; ok {
				shared = true
				break
			}
		}
		if !shared {
			return 0.05
		}
	}
	return 0.10
}

func numbers(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, m := range numericPattern.FindAllString(s, -1) {
		set[m] = struct{}{}
	}
	return set
}

// DomainSignals is 0.05 for three or more regulatory keywords, 0.03 for at
// least one.
func DomainSignals(description, grounding string) float64 {
	text := strings.ToLower(description + " " + grounding)
	hits := 0
	for _, re := range domainPatterns {
		if re.MatchString(text) {
			hits++
		}
	}
	switch {
	case hits >= 3:
		return 0.05
	case hits >= 1:
		return 0.03
	default:
		return 0
	}
}

// Rationale summarizes the features as one human-readable line.
func Rationale(f types.ConfidenceFeatures, ev types.GroundingEvidence) string {
	var parts []string

	pct := fmt.Sprintf("%.0f%%", ev.JaccardScore*100)
	switch {
	case f.GroundingMatch >= 0.25:
		parts = append(parts, fmt.Sprintf("Strong grounding (%s word overlap, %d phrase matches)", pct, ev.PhraseCount))
	case f.GroundingMatch >= 0.15:
		parts = append(parts, fmt.Sprintf("Moderate grounding (%s word overlap)", pct))
	default:
		parts = append(parts, fmt.Sprintf("Weak grounding (%s word overlap)", pct))
	}

	switch {
	case f.Completeness >= 0.18:
		parts = append(parts, "attributes complete")
	case f.Completeness >= 0.10:
		parts = append(parts, "some attributes missing")
	default:
		parts = append(parts, "many attributes missing")
	}

	switch {
	case f.Quantification >= 0.15:
		parts = append(parts, "well-quantified")
	case f.Quantification >= 0.10:
		parts = append(parts, "partially quantified")
	case f.Quantification > 0:
		parts = append(parts, "minimal quantification")
	}

	if f.SchemaCompliance >= 0.15 {
		parts = append(parts, "schema-compliant")
	} else {
		parts = append(parts, "schema violations")
	}

	if f.Coherence < 0.10 {
		parts = append(parts, "potential contradictions")
	}
	if f.DomainSignals >= 0.05 {
		parts = append(parts, "regulatory keywords present")
	}

	return strings.Join(parts, "; ") + "."
}

func truthy(a types.Attributes, key string) bool {
	v, ok := types.AttributeValue(a, key)
	if !ok {
		return false
	}
	switch x := v.(type) {
	case string:
		return x != ""
	case float64:
		return x != 0
	case bool:
		return x
	case []string:
		return len(x) > 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return v != nil
}
