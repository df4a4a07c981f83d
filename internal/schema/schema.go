// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema validates requirement attributes against the per-type
// required-attribute schemas and the canonical attribute schemas.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// WrongTypeSuffix marks a missing-field entry whose value had the wrong type.
const WrongTypeSuffix = " (wrong type)"

// Kind is the expected JSON type of a required attribute.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindList
)

// Field is one required attribute and its expected type.
type Field struct {
	Name string
	Kind Kind
}

// Schema is the required-attribute schema for one rule type.
type Schema struct {
	Required []Field
	Optional []string
}

var schemas = map[types.RuleType]Schema{
	types.RuleDataQualityThreshold: {
		Required: []Field{{"metric", KindString}, {"threshold_value", KindNumber}, {"threshold_direction", KindString}},
		Optional: []string{"threshold_unit", "consequence"},
	},
	types.RuleOwnershipCategory: {
		Required: []Field{{"ownership_type", KindString}, {"required_data_elements", KindList}},
		Optional: []string{"insurance_coverage", "cardinality"},
	},
	types.RuleBeneficialOwnershipThreshold: {
		Required: []Field{{"threshold_value", KindNumber}, {"threshold_unit", KindString}},
		Optional: []string{"applies_to", "requirement", "threshold_direction"},
	},
	types.RuleDocumentationRequirement: {
		Required: []Field{{"applies_to", KindString}, {"requirement", KindString}},
		Optional: []string{"consequence"},
	},
	types.RuleUpdateRequirement: {
		Required: []Field{{"applies_when", KindString}, {"requirement", KindString}},
		Optional: []string{"applies_to", "consequence"},
	},
	types.RuleUpdateTimeline: {
		Required: []Field{{"applies_to", KindString}, {"threshold_value", KindNumber}, {"threshold_unit", KindString}},
		Optional: []string{"consequence"},
	},
	types.RuleControlRequirement: {},
	types.RuleRiskStatement:      {},
}

// For returns the required-attribute schema of rt.
func For(rt types.RuleType) (Schema, bool) {
	s, ok := schemas[rt]
	return s, ok
}

// RequiredCount returns the number of required attributes of rt.
func RequiredCount(rt types.RuleType) int {
	return len(schemas[rt].Required)
}

// Validate checks req against its required-attribute schema. Absent fields
// are reported by name; fields supplied with the wrong type are reported as
// "name (wrong type)".
func Validate(req types.Requirement) (bool, []string) {
	s, ok := schemas[req.RuleType]
	if !ok {
		return false, []string{"Unknown rule_type: " + string(req.RuleType)}
	}

	invalid := types.WrongTyped(req.Attributes)
	var missing []string
	for _, f := range s.Required {
		if _, bad := invalid[f.Name]; bad {
			missing = append(missing, f.Name+WrongTypeSuffix)
			continue
		}
		v, present := types.AttributeValue(req.Attributes, f.Name)
		if !present {
			missing = append(missing, f.Name)
			continue
		}
		if !hasKind(v, f.Kind) {
			missing = append(missing, f.Name+WrongTypeSuffix)
		}
	}
	return len(missing) == 0, missing
}

// IsWrongType reports whether a missing-field entry names a wrong-typed value.
func IsWrongType(entry string) bool {
	return strings.Contains(entry, "(wrong type)")
}

func hasKind(v any, k Kind) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		return isNumber(v)
	case KindList:
		switch v.(type) {
		case []string, []any:
			return true
		}
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64, json.Number:
		return true
	}
	return false
}
