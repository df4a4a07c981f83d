// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

var testBatch = types.Batch{Fragments: []types.Fragment{
	{ID: "c1", Location: "section 1", Text: "first"},
	{ID: "c2", Location: "section 2", Text: "second"},
}}

var testInfo = RunInfo{SchemaVersion: "s1", PromptVersion: "v1", Pass: 1}

func TestParse_ValidArray(t *testing.T) {
	raw := `[{"rule_type":"documentation_requirement","rule_description":"Banks must retain signature cards for each account.","grounded_in":"Each bank must retain the signature card for every account.","confidence":0.92,"source_chunk_id":"c2","attributes":{"applies_to":"accounts","requirement":"retain signature cards"}}]`

	res := New(nil).Parse(context.Background(), raw, testBatch, testInfo)

	assert.False(t, res.ParseError)
	require.Len(t, res.Requirements, 1)
	r := res.Requirements[0]
	assert.Equal(t, "R-DOC-a3f91c", r.ID)
	assert.Equal(t, types.RuleDocumentationRequirement, r.RuleType)
	assert.Equal(t, 0.92, r.Confidence)
	assert.Equal(t, "c2", r.Metadata.SourceChunkID)
	assert.Equal(t, "section 2", r.Metadata.SourceLocation)
	assert.Equal(t, "s1", r.Metadata.SchemaVersion)
	assert.Equal(t, "v1", r.Metadata.PromptVersion)
	assert.Equal(t, 1, r.Metadata.ExtractionPass)
	assert.Equal(t, "accounts", types.AttributeString(r.Attributes, "applies_to"))
}

func TestParse_FencedBareObject(t *testing.T) {
	raw := "```json\n{\"rule_type\":\"risk_statement\",\"rule_description\":\"Risk exists.\",\"grounded_in\":\"Risk exists.\"}\n```"

	res := New(nil).Parse(context.Background(), raw, testBatch, testInfo)

	assert.False(t, res.ParseError)
	require.Len(t, res.Requirements, 1)
	assert.Equal(t, DefaultConfidence, res.Requirements[0].Confidence)
	assert.Equal(t, "c1", res.Requirements[0].Metadata.SourceChunkID, "unresolved id falls back to first fragment")
}

func TestParse_UnknownTypeIsNotParseError(t *testing.T) {
	log := logging.NewTestLogger()
	raw := `[{"rule_type":"made_up","rule_description":"x","grounded_in":"x"},{"rule_type":"risk_statement","rule_description":"y","grounded_in":"y"}]`

	res := New(log.Logger).Parse(context.Background(), raw, testBatch, testInfo)

	assert.False(t, res.ParseError)
	assert.Equal(t, 1, res.UnknownTypes)
	assert.Len(t, res.Requirements, 1)
	log.AssertLogged(t, zapcore.WarnLevel, "requirement_dropped_unknown_type")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCount int
	}{
		{name: "malformed json", raw: `[{"rule_type":`, wantCount: 0},
		{name: "top level string", raw: `"hello"`, wantCount: 0},
		{name: "item not object", raw: `[1, {"rule_type":"risk_statement","rule_description":"ok","grounded_in":"ok"}]`, wantCount: 1},
		{name: "empty description", raw: `[{"rule_type":"risk_statement","rule_description":"  ","grounded_in":"g"}]`, wantCount: 0},
		{name: "description not string", raw: `[{"rule_type":"risk_statement","rule_description":5,"grounded_in":"g"}]`, wantCount: 0},
		{name: "grounding not string", raw: `[{"rule_type":"risk_statement","rule_description":"d","grounded_in":["g"]}]`, wantCount: 0},
		{name: "confidence not number", raw: `[{"rule_type":"risk_statement","rule_description":"d","grounded_in":"g","confidence":"high"}]`, wantCount: 0},
		{name: "attributes not object", raw: `[{"rule_type":"risk_statement","rule_description":"d","grounded_in":"g","attributes":[]}]`, wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(nil).Parse(context.Background(), tt.raw, testBatch, testInfo)
			assert.True(t, res.ParseError)
			assert.NotEmpty(t, res.Errors)
			assert.Len(t, res.Requirements, tt.wantCount)
		})
	}
}

func TestParse_ClampsConfidence(t *testing.T) {
	raw := `[{"rule_type":"risk_statement","rule_description":"a","grounded_in":"a","confidence":1.4},{"rule_type":"risk_statement","rule_description":"b","grounded_in":"b","confidence":0.1}]`

	res := New(nil).Parse(context.Background(), raw, testBatch, testInfo)

	require.Len(t, res.Requirements, 2)
	assert.Equal(t, types.MaxConfidence, res.Requirements[0].Confidence)
	assert.Equal(t, types.MinConfidence, res.Requirements[1].Confidence)
}

func TestParse_EmptyArray(t *testing.T) {
	res := New(nil).Parse(context.Background(), "[]", testBatch, testInfo)
	assert.False(t, res.ParseError)
	assert.Empty(t, res.Requirements)
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "[]", want: "[]"},
		{in: "```json\n[1]\n```", want: "[1]"},
		{in: "```\n[1]", want: "[1]"},
		{in: "  ```json\n[1]\n```  ", want: "[1]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFence(tt.in))
	}
}

func TestRequirementID(t *testing.T) {
	id := RequirementID(types.RuleDocumentationRequirement,
		"Banks must retain signature cards for each account.",
		"Each bank must retain the signature card for every account.")
	assert.Equal(t, "R-DOC-a3f91c", id)
	assert.Equal(t, id, RequirementID(types.RuleDocumentationRequirement,
		"Banks must retain signature cards for each account.",
		"Each bank must retain the signature card for every account."))
	assert.NotEqual(t, id, RequirementID(types.RuleDocumentationRequirement, "other", "text"))
	assert.Regexp(t, `^R-UNK-[0-9a-f]{6}$`, RequirementID("nope", "a", "b"))
}
