// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

func healthy() types.EvalReport {
	return types.EvalReport{
		TotalRequirements: 10,
		CoverageRatio:     0.9,
		AvgConfidence:     0.85,
		DedupRatio:        1.0,
		ExtractionPass:    1,
	}
}

func nIssues[T any](n int, v T) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*types.EvalReport)
		failure   types.FailureType
		severity  types.Severity
		retryable bool
	}{
		{"none", func(*types.EvalReport) {}, types.FailureNone, types.SeverityLow, false},
		{"coverage first pass", func(r *types.EvalReport) { r.CoverageRatio = 0.5 },
			types.FailureCoverage, types.SeverityHigh, true},
		{"coverage retry pass", func(r *types.EvalReport) { r.CoverageRatio = 0.5; r.ExtractionPass = 2 },
			types.FailureCoverage, types.SeverityHigh, false},
		{"testability", func(r *types.EvalReport) { r.TestabilityIssues = nIssues(6, types.TestabilityIssue{}) },
			types.FailureTestability, types.SeverityHigh, false},
		{"grounding", func(r *types.EvalReport) { r.GroundingIssues = nIssues(4, types.GroundingIssue{}) },
			types.FailureGrounding, types.SeverityMedium, false},
		{"schema counts only high", func(r *types.EvalReport) {
			r.SchemaComplianceIssues = nIssues(8, types.SchemaComplianceIssue{Severity: types.SeverityMedium})
		}, types.FailureNone, types.SeverityLow, false},
		{"schema", func(r *types.EvalReport) {
			r.SchemaComplianceIssues = nIssues(4, types.SchemaComplianceIssue{Severity: types.SeverityHigh})
		}, types.FailureSchema, types.SeverityMedium, false},
		{"dedup", func(r *types.EvalReport) { r.DedupRatio = 0.6 },
			types.FailureDedup, types.SeverityMedium, true},
		{"critical hallucination", func(r *types.EvalReport) {
			r.HallucinationFlags = []types.HallucinationFlag{{Risk: types.SeverityCritical}}
		}, types.FailureHallucination, types.SeverityCritical, false},
		{"few high hallucinations", func(r *types.EvalReport) {
			r.HallucinationFlags = nIssues(3, types.HallucinationFlag{Risk: types.SeverityHigh})
		}, types.FailureNone, types.SeverityLow, false},
		{"many high hallucinations", func(r *types.EvalReport) {
			r.HallucinationFlags = nIssues(4, types.HallucinationFlag{Risk: types.SeverityHigh})
		}, types.FailureHallucination, types.SeverityHigh, false},
		{"multi raises to high", func(r *types.EvalReport) {
			r.GroundingIssues = nIssues(4, types.GroundingIssue{})
			r.DedupRatio = 0.6
		}, types.FailureMulti, types.SeverityHigh, true},
		{"multi keeps critical", func(r *types.EvalReport) {
			r.CoverageRatio = 0.5
			r.HallucinationFlags = []types.HallucinationFlag{{Risk: types.SeverityCritical}}
		}, types.FailureMulti, types.SeverityCritical, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := healthy()
			tt.mutate(&r)
			failure, severity, retryable := Classify(r)
			assert.Equal(t, tt.failure, failure)
			assert.Equal(t, tt.severity, severity)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}

func TestSuggestions(t *testing.T) {
	assert.Equal(t, []string{AllPassed}, Suggestions(healthy()))

	r := healthy()
	r.CoverageRatio = 0.7
	r.SchemaComplianceIssues = []types.SchemaComplianceIssue{
		{MissingFields: []string{"applies_to", "metric_type"}},
		{MissingFields: []string{"applies_to"}},
	}
	r.HallucinationFlags = []types.HallucinationFlag{{Risk: types.SeverityCritical}, {Risk: types.SeverityHigh}}

	got := Suggestions(r)

	assert.Equal(t, []string{
		"Coverage ratio 70.0% below target. Review chunks with zero extractions.",
		"Schema compliance issues (2). Missing fields: applies_to, metric_type. Update prompt to require these fields.",
		"CRITICAL: 1 requirements flagged for potential hallucination. Manual review required before proceeding.",
	}, got)
}

func TestOverallScore(t *testing.T) {
	assert.Equal(t, 0.0, OverallScore(types.EvalReport{}))

	r := healthy()
	// 0.25*0.9 + 0.25*0.85 + 0.15 + 0.15 + 0.10 + 0.10
	assert.InDelta(t, 0.9375, OverallScore(r), 1e-9)

	r.TestabilityIssues = nIssues(5, types.TestabilityIssue{})
	r.HallucinationFlags = nIssues(10, types.HallucinationFlag{})
	// testability ratio 0.5; penalty capped at 0.30
	assert.InDelta(t, 0.9375-0.075-0.30, OverallScore(r), 1e-9)

	r.CoverageRatio, r.AvgConfidence, r.DedupRatio = 0, 0, 0
	r.GroundingIssues = nIssues(20, types.GroundingIssue{})
	assert.Equal(t, 0.0, OverallScore(r), "clamped at zero")
}
