// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

func r(id string, rt types.RuleType, desc string, conf float64) types.Requirement {
	return types.Requirement{ID: id, RuleType: rt, Description: desc, Confidence: conf}
}

func ids(reqs []types.Requirement) []string {
	out := make([]string, len(reqs))
	for i, q := range reqs {
		out[i] = q.ID
	}
	return out
}

func TestSimilarity_Inflections(t *testing.T) {
	sim := Similarity("The hold must be aggregated across all accounts", "Aggregate the hold across all accounts")
	assert.GreaterOrEqual(t, sim, DefaultThreshold)
}

func TestSimilarity_Edges(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("", "anything"))
	assert.Equal(t, 0.0, Similarity("the and of", "the and of"), "stop words only")
	assert.Equal(t, 1.0, Similarity("Retain records.", "retain RECORDS"))
}

func TestDeduplicate_KeepsHighestConfidence(t *testing.T) {
	in := []types.Requirement{
		r("a", types.RuleControlRequirement, "The hold must be aggregated across all accounts", 0.80),
		r("b", types.RuleControlRequirement, "Aggregate the hold across all accounts", 0.90),
		r("c", types.RuleControlRequirement, "Signature cards are retained for five years", 0.70),
	}

	out := Deduplicate(in, DefaultThreshold)

	assert.Equal(t, []string{"b", "c"}, ids(out))
}

func TestDeduplicate_TieKeepsEarliest(t *testing.T) {
	in := []types.Requirement{
		r("a", types.RuleRiskStatement, "Retain records", 0.8),
		r("b", types.RuleRiskStatement, "retain records", 0.8),
	}
	assert.Equal(t, []string{"a"}, ids(Deduplicate(in, DefaultThreshold)))
}

func TestDeduplicate_DifferentTypesNeverMerge(t *testing.T) {
	in := []types.Requirement{
		r("a", types.RuleRiskStatement, "Retain records", 0.8),
		r("b", types.RuleControlRequirement, "Retain records", 0.9),
	}
	assert.Equal(t, []string{"a", "b"}, ids(Deduplicate(in, DefaultThreshold)))
}

func TestDeduplicate_Transitive(t *testing.T) {
	// a~b and b~c, but a and c share only 3 of 5 tokens.
	in := []types.Requirement{
		r("a", types.RuleControlRequirement, "alpha beta gamma delta", 0.7),
		r("b", types.RuleControlRequirement, "alpha beta gamma delta epsilon", 0.8),
		r("c", types.RuleControlRequirement, "beta gamma delta epsilon", 0.9),
	}
	require.Less(t, Similarity(in[0].Description, in[2].Description), DefaultThreshold)

	out := Deduplicate(in, DefaultThreshold)

	assert.Equal(t, []string{"c"}, ids(out))
}

func TestDeduplicate_Idempotent(t *testing.T) {
	in := []types.Requirement{
		r("a", types.RuleControlRequirement, "alpha beta gamma delta", 0.7),
		r("b", types.RuleControlRequirement, "alpha beta gamma delta epsilon", 0.8),
		r("c", types.RuleDocumentationRequirement, "Retain signature cards", 0.9),
		r("d", types.RuleDocumentationRequirement, "Retain the signature card", 0.6),
		r("e", types.RuleDocumentationRequirement, "Report large transactions daily", 0.6),
	}

	once := Deduplicate(in, DefaultThreshold)
	twice := Deduplicate(once, DefaultThreshold)

	assert.Equal(t, ids(once), ids(twice))
	assert.Equal(t, []string{"b", "c", "e"}, ids(once))
}

func TestDeduplicate_Empty(t *testing.T) {
	assert.Empty(t, Deduplicate(nil, 0))
}

func TestPairs(t *testing.T) {
	in := []types.Requirement{
		r("a", types.RuleControlRequirement, "The hold must be aggregated across all accounts", 0.8),
		r("b", types.RuleControlRequirement, "Aggregate the hold across all accounts", 0.9),
		r("c", types.RuleRiskStatement, "Aggregate the hold across all accounts", 0.9),
	}

	pairs := Pairs(in, 0)

	require.Len(t, pairs, 1)
	assert.Equal(t, "a", pairs[0].RequirementA)
	assert.Equal(t, "b", pairs[0].RequirementB)
	assert.Equal(t, 1.0, pairs[0].Similarity)
	assert.Equal(t, types.RuleControlRequirement, pairs[0].RuleType)
}
