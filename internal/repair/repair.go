// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package repair fills missing required attributes with keyword heuristics
// and infers the cross-cutting applicable_fields and data_source attributes.
package repair

import (
	"regexp"
	"strings"

	"github.com/pdiddy/compliance-engine/internal/schema"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// keywordRule maps any of Keywords (substring match) to Value.
type keywordRule struct {
	Keywords []string
	Value    string
}

// fieldRule resolves one repairable field. Rules are tried in order and the
// first match wins; Fallback applies when nothing matches.
type fieldRule struct {
	Rules    []keywordRule
	Fallback any

	// FromDescription copies the description verbatim.
	FromDescription bool
}

var fieldRules = map[string]fieldRule{
	"applies_to": {
		Rules: []keywordRule{
			{[]string{"account"}, "accounts"},
			{[]string{"record"}, "records"},
			{[]string{"document"}, "documents"},
			{[]string{"transaction"}, "transactions"},
		},
		Fallback: "relevant data",
	},
	"threshold_direction": {
		Rules: []keywordRule{
			{[]string{"at least", "minimum", "greater", "exceed"}, "gte"},
			{[]string{"at most", "maximum", "less", "under", "within"}, "lte"},
		},
		Fallback: "eq",
	},
	"threshold_unit": {
		Rules: []keywordRule{
			{[]string{"%", "percent"}, "%"},
			{[]string{"day"}, "days"},
			{[]string{"hour"}, "hours"},
			{[]string{"record"}, "records"},
		},
		Fallback: "units",
	},
	"metric": {
		Rules: []keywordRule{
			{[]string{"accuracy"}, "accuracy_rate"},
			{[]string{"completeness"}, "completeness_rate"},
			{[]string{"error"}, "error_rate"},
			{[]string{"compliance"}, "compliance_rate"},
		},
		Fallback: "quality_score",
	},
	"requirement": {FromDescription: true},
	"ownership_type": {
		Rules: []keywordRule{
			{[]string{"individual"}, "individual"},
			{[]string{"joint"}, "joint"},
			{[]string{"trust"}, "trust"},
			{[]string{"corporate", "business"}, "corporate"},
		},
		Fallback: "other",
	},
	"required_data_elements": {Fallback: []string{}},
	"applies_when": {
		Rules: []keywordRule{
			{[]string{"change"}, "on_change"},
			{[]string{"new", "open"}, "on_creation"},
			{[]string{"close"}, "on_closure"},
		},
		Fallback: "on_trigger",
	},
}

// fieldPatterns maps description keywords to data field names. Order is
// the output order of inferred fields.
var fieldPatterns = []struct {
	Pattern string
	Field   string
}{
	{"account number", "account_number"},
	{"account_number", "account_number"},
	{"ssn", "ssn"},
	{"social security", "ssn"},
	{"tax id", "tax_id"},
	{"tin", "tax_id"},
	{"balance", "balance"},
	{"name", "account_holder_name"},
	{"address", "address"},
	{"email", "email"},
	{"phone", "phone_number"},
	{"date of birth", "date_of_birth"},
	{"dob", "date_of_birth"},
	{"ownership", "ownership_type"},
	{"beneficiary", "beneficiary_name"},
	{"signature", "signature"},
}

// sourcePatterns maps explicit system references to data sources.
var sourcePatterns = []keywordRule{
	{[]string{"core banking"}, "core_banking_system"},
	{[]string{"cif"}, "customer_information_file"},
	{[]string{"deposit system"}, "deposit_system"},
	{[]string{"loan system"}, "loan_system"},
	{[]string{"account master"}, "account_master"},
	{[]string{"customer master"}, "customer_master"},
	{[]string{"signature card"}, "signature_card_system"},
}

// defaultSources is the data source used when no system is named.
var defaultSources = map[types.RuleType]string{
	types.RuleDataQualityThreshold:         "core_banking_system.accounts",
	types.RuleOwnershipCategory:            "account_master.ownership",
	types.RuleBeneficialOwnershipThreshold: "customer_information_file.beneficial_owners",
	types.RuleDocumentationRequirement:     "document_management_system",
	types.RuleUpdateRequirement:            "core_banking_system.accounts",
	types.RuleUpdateTimeline:               "core_banking_system.accounts",
}

var (
	wordPatterns   = compileFieldPatterns()
	sourceMatchers = compileSourcePatterns()
)

func compileFieldPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(fieldPatterns))
	for i, p := range fieldPatterns {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(p.Pattern) + `s?\b`)
	}
	return out
}

func compileSourcePatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(sourcePatterns))
	for i, r := range sourcePatterns {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(r.Keywords[0]) + `s?\b`)
	}
	return out
}

// AttemptRepair fills the missing fields it knows how to infer and always
// runs applicable_fields and data_source inference. It works on a copy and
// reports whether any missing field was filled. Entries marked as wrong
// type and threshold values are never invented.
func AttemptRepair(req types.Requirement, missing []string) (types.Requirement, bool) {
	out := req.Clone()
	if out.Attributes == nil {
		out.Attributes = types.NewAttributes(out.RuleType)
		if out.Attributes == nil {
			return out, false
		}
	}
	desc := strings.ToLower(out.Description)

	var repaired []string
	for _, field := range missing {
		if schema.IsWrongType(field) {
			continue
		}
		value, ok := resolveField(field, desc, out.Description)
		if !ok {
			continue
		}
		if err := types.SetAttribute(out.Attributes, field, value); err != nil {
			continue
		}
		repaired = append(repaired, field)
	}

	common := types.Common(out.Attributes)
	if common.ApplicableFields == nil {
		if fields := InferApplicableFields(desc); len(fields) > 0 {
			common.ApplicableFields = fields
			common.ApplicableFieldsSource = types.SourceInferred
		}
	}
	if common.DataSource == "" {
		if src := InferDataSource(desc, out.RuleType); src != "" {
			common.DataSource = src
			common.DataSourceSource = types.SourceInferred
		}
	}

	if len(repaired) > 0 {
		out.Validation.RepairedFields = append(out.Validation.RepairedFields, repaired...)
		out.Validation.RepairApplied = true
	}
	return out, len(repaired) > 0
}

func resolveField(field, descLower, desc string) (any, bool) {
	rule, ok := fieldRules[field]
	if !ok {
		return nil, false
	}
	if rule.FromDescription {
		return desc, true
	}
	for _, r := range rule.Rules {
		if containsAny(descLower, r.Keywords) {
			return r.Value, true
		}
	}
	return rule.Fallback, true
}

// InferApplicableFields returns the data fields named in a lowercased
// description, in table order without repeats.
func InferApplicableFields(descLower string) []string {
	var found []string
	seen := map[string]bool{}
	for i, p := range fieldPatterns {
		if seen[p.Field] || !wordPatterns[i].MatchString(descLower) {
			continue
		}
		seen[p.Field] = true
		found = append(found, p.Field)
	}
	return found
}

// InferDataSource returns the system named in a lowercased description, or
// the rule type's default source.
func InferDataSource(descLower string, rt types.RuleType) string {
	for i, r := range sourcePatterns {
		if sourceMatchers[i].MatchString(descLower) {
			return r.Value
		}
	}
	return defaultSources[rt]
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
