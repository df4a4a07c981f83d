// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/compliance-engine/internal/extract"
	"github.com/pdiddy/compliance-engine/internal/gate"
	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/internal/metrics"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

const (
	signatureCard = "Each bank must retain the signature card for every account."
	loanFile      = "Each credit union must keep the loan file for every member."
	pronounText   = "This card must be retained by each bank for every account."
)

// funcExtractor answers each request with fn and counts calls.
type funcExtractor struct {
	fn    func(req extract.Request) (extract.Response, error)
	calls int
}

func (f *funcExtractor) Extract(_ context.Context, req extract.Request) (extract.Response, error) {
	f.calls++
	return f.fn(req)
}

func respond(text string) func(extract.Request) (extract.Response, error) {
	return func(extract.Request) (extract.Response, error) {
		return extract.Response{Text: text, InputTokens: 100, OutputTokens: 20}, nil
	}
}

// item renders one extracted requirement the way the model returns it.
func item(t *testing.T, rt types.RuleType, desc, grounding, fragID string, attrs map[string]any) map[string]any {
	t.Helper()
	return map[string]any{
		"rule_type":        string(rt),
		"rule_description": desc,
		"grounded_in":      grounding,
		"confidence":       0.9,
		"source_chunk_id":  fragID,
		"attributes":       attrs,
	}
}

func docItem(t *testing.T, text, fragID string) map[string]any {
	return item(t, types.RuleDocumentationRequirement, text, text, fragID,
		map[string]any{"applies_to": "accounts", "requirement": "retain signature cards"})
}

func asJSON(t *testing.T, items ...map[string]any) string {
	t.Helper()
	data, err := json.Marshal(items)
	require.NoError(t, err)
	return string(data)
}

func frag(id, text string) types.Fragment {
	return types.Fragment{ID: id, Type: types.FragmentProse, Text: text, Location: "section " + id}
}

// sized returns a fragment whose batch budget cost is chars.
func sized(id, text string, chars int) types.Fragment {
	f := frag(id, text)
	f.CharCount = chars
	return f
}

func testSchemaMap() *types.SchemaMap {
	return &types.SchemaMap{
		DocumentFormat:    "regulatory_docx",
		StructuralPattern: "section_based_prose",
		DocumentCategory:  "regulatory",
		SchemaVersion:     "s1",
		AvgConfidence:     0.95,
		Entities: []types.SchemaEntity{{
			Label:       "Account",
			RecordCount: 3,
			Fields:      []types.SchemaField{{RawLabel: "Account Number", InferredType: "string"}},
		}},
	}
}

type harness struct {
	p       *Pipeline
	ext     *funcExtractor
	log     *logging.TestLogger
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, fn func(extract.Request) (extract.Response, error), mutate ...func(*types.PipelineConfig)) *harness {
	t.Helper()
	cfg := types.DefaultPipelineConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	ext := &funcExtractor{fn: fn}
	log := logging.NewTestLogger()
	m := metrics.New(prometheus.NewRegistry())
	p := New(cfg, ext, log.Logger, m)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	p.newID = func() string { return "run-1" }
	return &harness{p: p, ext: ext, log: log, metrics: m}
}

func smallBatches(cfg *types.PipelineConfig) { cfg.Extraction.MaxBatchChars = 100 }

func skipReasons(skipped []types.SkippedFragment) map[string]types.SkipReason {
	out := map[string]types.SkipReason{}
	for _, sk := range skipped {
		out[sk.FragmentID] = sk.Reason
	}
	return out
}

func TestRun_AcceptsGroundedRequirement(t *testing.T) {
	h := newHarness(t, nil)
	h.ext.fn = respond(asJSON(t, docItem(t, signatureCard, "doc-0001")))
	fragments := []types.Fragment{frag("doc-0001", signatureCard), frag("doc-0002", "Table of contents.")}

	res, err := h.p.Run(context.Background(), RunInput{Fragments: fragments, SchemaMap: testSchemaMap()})

	require.NoError(t, err)
	require.Len(t, res.Requirements, 1)
	r := res.Requirements[0]
	assert.Equal(t, 0.68, r.Confidence, "confidence comes from the scorer, not the model")
	assert.Equal(t, types.ValidationValid, r.Validation.Status)
	require.NotNil(t, r.Score)
	assert.Equal(t, types.GroundingExact, r.Score.Classification)
	assert.NotNil(t, r.Control, "accepted requirements are enriched")
	assert.Empty(t, r.FragmentWarning)
	assert.Equal(t, "s1", r.Metadata.SchemaVersion)
	assert.Equal(t, extract.PromptV1, r.Metadata.PromptVersion)

	md := res.Metadata
	assert.Equal(t, "run-1", md.RunID)
	assert.Equal(t, 1, md.ExtractionPass)
	assert.Equal(t, 2, md.TotalFragments)
	assert.Equal(t, 1, md.TotalBatches)
	assert.Equal(t, 1, md.LLMCalls)
	assert.Equal(t, 100, md.InputTokens)
	assert.Equal(t, 20, md.OutputTokens)
	assert.Equal(t, 1, md.TotalRequirements)
	assert.Equal(t, 0.68, md.AvgConfidence)
	assert.Equal(t, map[types.RuleType]int{types.RuleDocumentationRequirement: 1}, md.RuleTypeDistribution)
	assert.Empty(t, md.Skipped)
	assert.NotNil(t, md.FragmentsWithZero)

	require.NotNil(t, res.Report)
	assert.Equal(t, 2, res.Report.TotalFragments)
	assert.Contains(t, res.Report.FragmentsWithZero, "doc-0002")
	assert.Equal(t, 1, res.Report.ExtractionPass)
	require.NotNil(t, res.Decision)

	h.log.AssertLogged(t, zapcore.InfoLevel, "run_completed")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequirementsTotal.WithLabelValues(metrics.OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LLMCallsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BatchesTotal.WithLabelValues("ok")))
}

func TestRun_SendsPassSettings(t *testing.T) {
	var got extract.Request
	h := newHarness(t, func(req extract.Request) (extract.Response, error) {
		got = req
		return extract.Response{Text: "[]"}, nil
	})

	_, err := h.p.Run(context.Background(), RunInput{
		Fragments: []types.Fragment{frag("doc-0001", signatureCard)},
		SchemaMap: testSchemaMap(),
		Pass:      2,
	})

	require.NoError(t, err)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.Contains(t, got.System, "Account (3 records)")
	assert.Contains(t, got.User, "--- FRAGMENT doc-0001 [PROSE] ---")
}

func TestRun_FailedBatchSkipsItsFragments(t *testing.T) {
	h := newHarness(t, func(req extract.Request) (extract.Response, error) {
		if strings.Contains(req.User, "doc-0002") {
			return extract.Response{}, &extract.TransportError{Provider: "anthropic", StatusCode: 400, Err: errors.New(strings.Repeat("x", 300))}
		}
		return extract.Response{Text: "[]"}, nil
	}, smallBatches)
	fragments := []types.Fragment{
		sized("doc-0001", "one", 60),
		sized("doc-0002", "two", 60),
		sized("doc-0003", "three", 60),
	}

	res, err := h.p.Run(context.Background(), RunInput{Fragments: fragments, SchemaMap: testSchemaMap()})

	require.NoError(t, err, "one failure in three stays under the threshold")
	md := res.Metadata
	assert.Equal(t, 3, md.TotalBatches)
	assert.Equal(t, 1, md.FailedBatches)
	assert.Equal(t, 2, md.LLMCalls, "failed calls are not counted")

	reasons := skipReasons(md.Skipped)
	assert.Equal(t, types.SkipLLMError, reasons["doc-0002"])
	assert.Equal(t, types.SkipEmptyResponse, reasons["doc-0001"])
	assert.Equal(t, []string{"doc-0001", "doc-0002", "doc-0003"}, md.FragmentsWithZero)
	for _, sk := range md.Skipped {
		if sk.Reason == types.SkipLLMError {
			assert.LessOrEqual(t, len([]rune(sk.Detail)), maxDetailChars)
		}
	}
	h.log.AssertLogged(t, zapcore.ErrorLevel, "batch_failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BatchesTotal.WithLabelValues("failed")))
}

func TestRun_TooManyBatchFailures(t *testing.T) {
	h := newHarness(t, func(extract.Request) (extract.Response, error) {
		return extract.Response{}, &extract.TransportError{Provider: "anthropic", StatusCode: 500, Err: errors.New("boom")}
	}, smallBatches)
	fragments := []types.Fragment{sized("doc-0001", "one", 60), sized("doc-0002", "two", 60)}

	_, err := h.p.Run(context.Background(), RunInput{Fragments: fragments, SchemaMap: testSchemaMap()})

	require.ErrorIs(t, err, ErrTooManyBatchFailures)
	assert.Contains(t, err.Error(), "2/2")
	h.log.AssertLogged(t, zapcore.ErrorLevel, "run_failed")
}

func TestRun_EmptyResponses(t *testing.T) {
	for _, tc := range []struct {
		name string
		fn   func(extract.Request) (extract.Response, error)
	}{
		{"empty array", respond("[]")},
		{"null", respond(" null ")},
		{"blank", respond("  ")},
		{"sentinel", func(extract.Request) (extract.Response, error) {
			return extract.Response{InputTokens: 5}, extract.ErrEmptyResponse
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.fn)

			res, err := h.p.Run(context.Background(), RunInput{
				Fragments: []types.Fragment{frag("doc-0001", signatureCard)},
				SchemaMap: testSchemaMap(),
			})

			require.NoError(t, err)
			assert.Empty(t, res.Requirements)
			assert.Equal(t, 0, res.Metadata.FailedBatches)
			assert.Equal(t, 1, res.Metadata.LLMCalls)
			require.Len(t, res.Metadata.Skipped, 1)
			assert.Equal(t, types.SkipEmptyResponse, res.Metadata.Skipped[0].Reason)
		})
	}
}

func TestRun_ParseErrorAndNoContent(t *testing.T) {
	for _, tc := range []struct {
		name   string
		text   string
		reason types.SkipReason
		detail string
	}{
		{"malformed", "not json at all", types.SkipParseError, "malformed JSON"},
		{"unknown types only", `[{"rule_type":"made_up","rule_description":"x","grounded_in":"x"}]`, types.SkipNoExtractableContent, "no requirements extracted"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, respond(tc.text))

			res, err := h.p.Run(context.Background(), RunInput{
				Fragments: []types.Fragment{frag("doc-0001", signatureCard)},
				SchemaMap: testSchemaMap(),
			})

			require.NoError(t, err)
			require.Len(t, res.Metadata.Skipped, 1)
			assert.Equal(t, tc.reason, res.Metadata.Skipped[0].Reason)
			assert.Contains(t, res.Metadata.Skipped[0].Detail, tc.detail)
			assert.Equal(t, []string{"doc-0001"}, res.Metadata.FragmentsWithZero)
		})
	}
}

func TestRun_NoFragments(t *testing.T) {
	h := newHarness(t, respond("[]"))

	res, err := h.p.Run(context.Background(), RunInput{SchemaMap: testSchemaMap()})

	require.NoError(t, err)
	assert.Empty(t, res.Requirements)
	assert.Equal(t, []string{ErrNoFragments.Error()}, res.Metadata.Errors)
	assert.Nil(t, res.Report)
	assert.Nil(t, res.Decision)
	assert.Equal(t, 0, h.ext.calls)
}

func TestRun_NoSchemaMapRejects(t *testing.T) {
	h := newHarness(t, respond("[]"))

	res, err := h.p.Run(context.Background(), RunInput{Fragments: []types.Fragment{frag("doc-0001", signatureCard)}})

	require.NoError(t, err)
	assert.Equal(t, []string{ErrNoSchemaMap.Error()}, res.Metadata.Errors)
	require.NotNil(t, res.Decision)
	assert.Equal(t, gate.NoSchema(), *res.Decision)
	assert.Equal(t, types.DecisionReject, res.Decision.Decision)
	assert.Equal(t, 0, h.ext.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GateDecisionsTotal.WithLabelValues(string(types.DecisionReject))))
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, respond("[]"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.p.Run(ctx, RunInput{Fragments: []types.Fragment{frag("doc-0001", signatureCard)}, SchemaMap: testSchemaMap()})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.ext.calls)
}

func TestRun_AccuracyThresholdIsExact(t *testing.T) {
	const text = "National Banking Corporation shall maintain deposit account records meeting 99.5% accuracy standards"
	h := newHarness(t, respond(asJSON(t, item(t, types.RuleDataQualityThreshold, text, text, "doc-0001", map[string]any{
		"metric":              "accuracy",
		"threshold_value":     99.5,
		"threshold_direction": "minimum",
		"threshold_unit":      "percent",
		"applies_to":          "deposit account records",
	}))))

	res, err := h.p.Run(context.Background(), RunInput{
		Fragments: []types.Fragment{frag("doc-0001", text)},
		SchemaMap: testSchemaMap(),
	})

	require.NoError(t, err)
	require.Len(t, res.Requirements, 1)
	r := res.Requirements[0]
	assert.Equal(t, types.RuleDataQualityThreshold, r.RuleType)
	v, ok := types.AttributeNumber(r.Attributes, "threshold_value")
	require.True(t, ok)
	assert.Equal(t, 99.5, v)
	require.NotNil(t, r.Score)
	assert.Equal(t, types.GroundingExact, r.Score.Classification)
	assert.GreaterOrEqual(t, r.Confidence, 0.85)
	assert.Equal(t, 0.90, r.Confidence)
	assert.Equal(t, types.ValidationValid, r.Validation.Status)
	require.NotNil(t, r.Control)
	assert.Contains(t, r.Control.ActionableDescription, "shall monitor and keep above 99.5% deposit account records")
	assert.Empty(t, res.Metadata.Skipped)
}

func TestRun_FiltersInferenceAndUngrounded(t *testing.T) {
	inference := item(t, types.RuleRiskStatement,
		"FDIC compliance examinations require 95% accuracy.",
		"Regulatory BSA reviews occur.", "doc-0001", nil)
	h := newHarness(t, respond(asJSON(t,
		docItem(t, signatureCard, "doc-0001"),
		inference,
		docItem(t, loanFile, "doc-0001"),
	)))

	res, err := h.p.Run(context.Background(), RunInput{
		Fragments: []types.Fragment{frag("doc-0001", signatureCard)},
		SchemaMap: testSchemaMap(),
	})

	require.NoError(t, err)
	require.Len(t, res.Requirements, 1)
	assert.Equal(t, signatureCard, res.Requirements[0].GroundedIn)
	assert.Equal(t, 1, res.Metadata.InferenceRejectedCount)
	assert.Equal(t, 1, res.Metadata.UngroundedRejectedCount)
	assert.Equal(t, 0, res.Metadata.BelowThresholdCount)
	assert.Empty(t, res.Metadata.Skipped, "fragment kept an accepted requirement")

	h.log.AssertLogged(t, zapcore.WarnLevel, "requirement_inference_rejected")
	h.log.AssertLogged(t, zapcore.WarnLevel, "requirement_ungrounded")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequirementsTotal.WithLabelValues(metrics.OutcomeInferenceRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequirementsTotal.WithLabelValues(metrics.OutcomeUngrounded)))
}

func TestRun_RetryPassRaisesThreshold(t *testing.T) {
	h := newHarness(t, respond(asJSON(t, docItem(t, signatureCard, "doc-0001"))))
	in := RunInput{Fragments: []types.Fragment{frag("doc-0001", signatureCard)}, SchemaMap: testSchemaMap(), Pass: 2}

	res, err := h.p.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Empty(t, res.Requirements, "0.68 is below the retry-pass threshold")
	assert.Equal(t, 1, res.Metadata.BelowThresholdCount)
	assert.Equal(t, extract.PromptV1Retry, res.Metadata.PromptVersion)
	require.Len(t, res.Metadata.Skipped, 1)
	assert.Equal(t, types.SkipBelowThreshold, res.Metadata.Skipped[0].Reason)
	assert.Equal(t, []string{"doc-0001"}, res.Metadata.FragmentsWithZero)
}

func TestRun_FlagsPronounFragments(t *testing.T) {
	h := newHarness(t, respond(asJSON(t, docItem(t, pronounText, "doc-0001"))))

	res, err := h.p.Run(context.Background(), RunInput{
		Fragments: []types.Fragment{frag("doc-0001", pronounText)},
		SchemaMap: testSchemaMap(),
	})

	require.NoError(t, err)
	require.Len(t, res.Requirements, 1)
	assert.Equal(t, FragmentWarningPronoun, res.Requirements[0].FragmentWarning)
	h.log.AssertLogged(t, zapcore.WarnLevel, "requirement_fragment_detected")
}

func TestRun_MergesOverlapDuplicates(t *testing.T) {
	// Budget 100 with 40-char fragments gives [1,2] then [2,3].
	h := newHarness(t, respond(""), smallBatches)
	h.ext.fn = respond(asJSON(t, docItem(t, signatureCard, "doc-0002")))
	fragments := []types.Fragment{
		sized("doc-0001", "Preamble.", 40),
		sized("doc-0002", signatureCard, 40),
		sized("doc-0003", "Closing.", 40),
	}

	res, err := h.p.Run(context.Background(), RunInput{Fragments: fragments, SchemaMap: testSchemaMap()})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Metadata.TotalBatches)
	assert.Equal(t, 2, res.Metadata.LLMCalls)
	require.Len(t, res.Requirements, 1)
	assert.Equal(t, 1, res.Metadata.DuplicatesMerged)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequirementsTotal.WithLabelValues(metrics.OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequirementsTotal.WithLabelValues(metrics.OutcomeAccepted)))
}

func TestRun_NilLoggerAndMetrics(t *testing.T) {
	p := New(types.DefaultPipelineConfig(), &funcExtractor{fn: respond("[]")}, nil, nil)

	assert.NotPanics(t, func() {
		_, err := p.Run(context.Background(), RunInput{
			Fragments: []types.Fragment{frag("doc-0001", signatureCard)},
			SchemaMap: testSchemaMap(),
		})
		assert.NoError(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := types.Requirement{
			RuleType:   types.RuleDocumentationRequirement,
			Attributes: types.DecodeAttributes(types.RuleDocumentationRequirement, map[string]any{"applies_to": "accounts", "requirement": "retain"}),
		}
		assert.Equal(t, types.ValidationValid, Validate(req).Validation.Status)
	})

	t.Run("repaired", func(t *testing.T) {
		req := types.Requirement{
			RuleType:    types.RuleUpdateTimeline,
			Description: "Changes must be recorded within 30 days.",
			Attributes:  types.DecodeAttributes(types.RuleUpdateTimeline, map[string]any{"applies_to": "records", "threshold_value": 30.0}),
		}
		out := Validate(req)
		assert.Equal(t, types.ValidationRepaired, out.Validation.Status)
		assert.Equal(t, []string{"threshold_unit"}, out.Validation.RepairedFields)
		assert.Empty(t, out.Validation.MissingFields)
		assert.False(t, types.HasAttribute(req.Attributes, "threshold_unit"), "input untouched")
	})

	t.Run("rejected", func(t *testing.T) {
		req := types.Requirement{
			RuleType:   types.RuleBeneficialOwnershipThreshold,
			Attributes: types.DecodeAttributes(types.RuleBeneficialOwnershipThreshold, map[string]any{"threshold_unit": "%"}),
		}
		out := Validate(req)
		assert.Equal(t, types.ValidationRejected, out.Validation.Status)
		assert.Equal(t, []string{"threshold_value"}, out.Validation.MissingFields)
	})
}

func TestStartsWithPronoun(t *testing.T) {
	pronouns := types.DefaultPipelineConfig().Extraction.FragmentPronouns
	for desc, want := range map[string]bool{
		"This record must be kept.":   true,
		"  Such accounts are closed.": true,
		"It must be signed.":          true,
		"Items must be listed.":       false,
		"Thistle is not a pronoun.":   false,
		"Banks must retain cards.":    false,
		"":                            false,
	} {
		assert.Equal(t, want, StartsWithPronoun(desc, pronouns), desc)
	}
}

func TestReconcileSkips(t *testing.T) {
	skipped := []types.SkippedFragment{
		{FragmentID: "b", Reason: types.SkipLLMError},
		{FragmentID: "a", Reason: types.SkipEmptyResponse},
		{FragmentID: "b", Reason: types.SkipLLMError},
		{FragmentID: "c", Reason: types.SkipEmptyResponse},
	}
	final := []types.Requirement{{Metadata: types.RequirementMetadata{SourceChunkID: "c"}}}

	out, zero := reconcileSkips(skipped, final)

	assert.Equal(t, []types.SkippedFragment{
		{FragmentID: "b", Reason: types.SkipLLMError},
		{FragmentID: "a", Reason: types.SkipEmptyResponse},
	}, out)
	assert.Equal(t, []string{"a", "b"}, zero)

	out, zero = reconcileSkips(nil, nil)
	assert.NotNil(t, out)
	assert.NotNil(t, zero)
}

func TestBelowThresholdSkips(t *testing.T) {
	vo := validationOutcome{
		dropped: map[string]int{"a": 2, "b": 1, "c": 1},
		kept:    map[string]int{"b": 1},
	}
	existing := []types.SkippedFragment{{FragmentID: "c", Reason: types.SkipParseError}}

	out := belowThresholdSkips(vo, existing)

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].FragmentID)
	assert.Equal(t, types.SkipBelowThreshold, out[0].Reason)
}
