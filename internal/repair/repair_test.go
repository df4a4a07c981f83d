// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/compliance-engine/internal/schema"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

func newReq(rt types.RuleType, desc string, attrs map[string]any) types.Requirement {
	return types.Requirement{
		ID:          "R-X-000000",
		RuleType:    rt,
		Description: desc,
		GroundedIn:  desc,
		Confidence:  0.8,
		Attributes:  types.DecodeAttributes(rt, attrs),
	}
}

func TestAttemptRepair_FieldRules(t *testing.T) {
	tests := []struct {
		name  string
		rt    types.RuleType
		desc  string
		field string
		want  any
	}{
		{"applies_to account", types.RuleDocumentationRequirement, "Banks must keep account records.", "applies_to", "accounts"},
		{"applies_to records", types.RuleDocumentationRequirement, "Keep records for five years.", "applies_to", "records"},
		{"applies_to fallback", types.RuleDocumentationRequirement, "Keep it safe.", "applies_to", "relevant data"},
		{"direction gte", types.RuleDataQualityThreshold, "Accuracy must be at least 95%.", "threshold_direction", "gte"},
		{"direction lte", types.RuleDataQualityThreshold, "Errors must stay under 2%.", "threshold_direction", "lte"},
		{"direction eq", types.RuleDataQualityThreshold, "Accuracy must be 95%.", "threshold_direction", "eq"},
		{"unit percent", types.RuleUpdateTimeline, "Update 95% of files.", "threshold_unit", "%"},
		{"unit days", types.RuleUpdateTimeline, "Update within 30 days.", "threshold_unit", "days"},
		{"unit fallback", types.RuleUpdateTimeline, "Update promptly.", "threshold_unit", "units"},
		{"metric accuracy", types.RuleDataQualityThreshold, "Accuracy must be high.", "metric", "accuracy_rate"},
		{"metric error", types.RuleDataQualityThreshold, "The error count must be low.", "metric", "error_rate"},
		{"metric fallback", types.RuleDataQualityThreshold, "Data must be good.", "metric", "quality_score"},
		{"requirement copies description", types.RuleUpdateRequirement, "Update addresses on change.", "requirement", "Update addresses on change."},
		{"ownership joint", types.RuleOwnershipCategory, "Joint accounts need two owners.", "ownership_type", "joint"},
		{"ownership business", types.RuleOwnershipCategory, "Business accounts need a resolution.", "ownership_type", "corporate"},
		{"ownership fallback", types.RuleOwnershipCategory, "Accounts need owners.", "ownership_type", "other"},
		{"applies_when change", types.RuleUpdateRequirement, "Update records when the address changes.", "applies_when", "on_change"},
		{"applies_when open", types.RuleUpdateRequirement, "Collect data when an account is opened.", "applies_when", "on_creation"},
		{"applies_when close", types.RuleUpdateRequirement, "Archive files when they close.", "applies_when", "on_closure"},
		{"applies_when fallback", types.RuleUpdateRequirement, "Update records periodically.", "applies_when", "on_trigger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newReq(tt.rt, tt.desc, nil)

			out, ok := AttemptRepair(in, []string{tt.field})

			assert.True(t, ok)
			v, present := types.AttributeValue(out.Attributes, tt.field)
			require.True(t, present)
			assert.Equal(t, tt.want, v)
			assert.Contains(t, out.Validation.RepairedFields, tt.field)
		})
	}
}

func TestAttemptRepair_RequiredDataElements(t *testing.T) {
	in := newReq(types.RuleOwnershipCategory, "Trust accounts require trustee data.", map[string]any{"ownership_type": "trust"})

	out, ok := AttemptRepair(in, []string{"required_data_elements"})

	assert.True(t, ok)
	valid, missing := schema.Validate(out)
	assert.True(t, valid, "missing: %v", missing)
}

func TestAttemptRepair_NeverInventsThreshold(t *testing.T) {
	in := newReq(types.RuleDataQualityThreshold, "Accuracy must be high.", map[string]any{"metric": "accuracy_rate", "threshold_direction": "gte"})

	out, ok := AttemptRepair(in, []string{"threshold_value"})

	assert.False(t, ok)
	assert.False(t, types.HasAttribute(out.Attributes, "threshold_value"))
}

func TestAttemptRepair_SkipsWrongType(t *testing.T) {
	in := newReq(types.RuleDataQualityThreshold, "Accuracy at least 95%.", map[string]any{"threshold_value": "95"})

	out, ok := AttemptRepair(in, []string{"threshold_value (wrong type)"})

	assert.False(t, ok)
	assert.Equal(t, "95", types.WrongTyped(out.Attributes)["threshold_value"])
}

func TestAttemptRepair_DoesNotMutateInput(t *testing.T) {
	in := newReq(types.RuleDocumentationRequirement, "Keep account records.", nil)

	_, _ = AttemptRepair(in, []string{"applies_to", "requirement"})

	assert.False(t, types.HasAttribute(in.Attributes, "applies_to"))
	assert.Empty(t, types.Common(in.Attributes).DataSource)
	assert.Empty(t, in.Validation.RepairedFields)
}

func TestAttemptRepair_CrossCuttingInference(t *testing.T) {
	in := newReq(types.RuleDataQualityThreshold, "The account number and SSN must be accurate in the core banking platform.", nil)

	out, ok := AttemptRepair(in, nil)

	assert.False(t, ok, "inference alone does not count as a repair")
	c := types.Common(out.Attributes)
	assert.Equal(t, []string{"account_number", "ssn"}, c.ApplicableFields)
	assert.Equal(t, types.SourceInferred, c.ApplicableFieldsSource)
	assert.Equal(t, "core_banking_system", c.DataSource)
	assert.Equal(t, types.SourceInferred, c.DataSourceSource)
}

func TestAttemptRepair_KeepsSuppliedCrossCutting(t *testing.T) {
	in := newReq(types.RuleDocumentationRequirement, "Keep the address on file.", map[string]any{
		"applicable_fields": []any{"mailing_address"},
		"data_source":       "crm",
	})

	out, _ := AttemptRepair(in, nil)

	c := types.Common(out.Attributes)
	assert.Equal(t, []string{"mailing_address"}, c.ApplicableFields)
	assert.Empty(t, c.ApplicableFieldsSource)
	assert.Equal(t, "crm", c.DataSource)
	assert.Empty(t, c.DataSourceSource)
}

func TestInferDataSource(t *testing.T) {
	assert.Equal(t, "customer_information_file", InferDataSource("update the cif record", types.RuleUpdateRequirement))
	assert.Equal(t, "document_management_system", InferDataSource("specific documents", types.RuleDocumentationRequirement))
	assert.Equal(t, "", InferDataSource("nothing named", types.RuleRiskStatement))
}

func TestInferApplicableFields_WordBoundaries(t *testing.T) {
	assert.Empty(t, InferApplicableFields("banks must maintain continuous controls"))
	assert.Equal(t, []string{"tax_id", "address"}, InferApplicableFields("collect the tin and mailing address"))
}

func TestAttemptRepair_RepairedValidates(t *testing.T) {
	in := newReq(types.RuleDocumentationRequirement, "Retain signature cards for each account.", nil)
	_, missing := schema.Validate(in)

	out, ok := AttemptRepair(in, missing)

	assert.True(t, ok)
	valid, _ := schema.Validate(out)
	assert.True(t, valid)
	assert.True(t, out.Validation.RepairApplied)
}
