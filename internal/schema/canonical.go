// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schema

import (
	"fmt"
	"strings"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

var (
	metricTypes  = []string{"accuracy", "completeness", "timeliness", "consistency", "uniqueness", "availability"}
	units        = []string{"percent", "count", "hours", "days", "dollars", "months", "weeks", "years"}
	frequencies  = []string{"continuous", "daily", "weekly", "monthly", "quarterly", "annual"}
	directions   = []string{"minimum", "maximum", "exact"}
	numericField = map[string]bool{"threshold_value": true, "timeline_value": true}
)

// CanonicalSchema is the target attribute contract of a rule type.
type CanonicalSchema struct {
	Required []string
	Optional []string
	Enums    map[string][]string
}

var canonical = map[types.RuleType]CanonicalSchema{
	types.RuleDataQualityThreshold: {
		Required: []string{"metric_type", "threshold_value", "threshold_unit", "applies_to"},
		Optional: []string{"threshold_direction", "measurement_frequency", "exception_threshold"},
		Enums: map[string][]string{
			"metric_type":           metricTypes,
			"threshold_unit":        units,
			"threshold_direction":   directions,
			"measurement_frequency": frequencies,
		},
	},
	types.RuleUpdateTimeline: {
		Required: []string{"timeline_value", "timeline_unit", "trigger_event", "applies_to"},
		Optional: []string{"priority_levels"},
		Enums:    map[string][]string{"timeline_unit": units},
	},
	types.RuleDocumentationRequirement: {
		Required: []string{"document_type", "applies_to"},
		Optional: []string{"required_by", "validation_method", "approval_chain"},
	},
	types.RuleUpdateRequirement: {
		Required: []string{"update_frequency", "responsible_party", "applies_to"},
		Optional: []string{"data_elements", "trigger_event"},
		Enums:    map[string][]string{"update_frequency": frequencies},
	},
	types.RuleBeneficialOwnershipThreshold: {
		Required: []string{"threshold_value", "threshold_unit", "applies_to"},
		Optional: []string{"identification_required", "threshold_direction"},
		Enums: map[string][]string{
			"threshold_unit":      units,
			"threshold_direction": directions,
		},
	},
	types.RuleOwnershipCategory: {
		Required: []string{"ownership_type", "scope"},
		Optional: []string{"responsibility", "required_data_elements", "insurance_coverage"},
	},
}

// legacyNames lists older attribute names accepted for a canonical field.
var legacyNames = map[string][]string{
	"metric_type":    {"metric", "threshold_type"},
	"timeline_value": {"threshold_value", "value"},
	"timeline_unit":  {"threshold_unit", "unit"},
	"trigger_event":  {"trigger", "applies_when"},
	"scope":          {"applies_to"},
}

// Canonical returns the canonical schema of rt.
func Canonical(rt types.RuleType) (CanonicalSchema, bool) {
	s, ok := canonical[rt]
	return s, ok
}

// CanonicalResult is the outcome of canonical validation.
type CanonicalResult struct {
	Valid    bool
	Errors   []string
	Warnings []string

	// Normalized holds required fields resolved through legacy names, enum
	// values lowercased, plus any optional fields present.
	Normalized map[string]any
}

// ValidateCanonical checks fields against the canonical schema of rt. A
// rule type without a canonical schema is valid.
func ValidateCanonical(rt types.RuleType, fields map[string]any) CanonicalResult {
	s, ok := canonical[rt]
	if !ok {
		return CanonicalResult{Valid: true, Normalized: map[string]any{}}
	}

	res := CanonicalResult{Normalized: map[string]any{}}
	for _, name := range s.Required {
		v, found := resolve(fields, name)
		if !found {
			res.Errors = append(res.Errors, "Missing: "+name)
			continue
		}
		if numericField[name] && !isNumber(v) {
			res.Errors = append(res.Errors, "Invalid type: "+name)
			continue
		}
		if allowed, isEnum := s.Enums[name]; isEnum {
			if str, isStr := v.(string); isStr {
				if contains(allowed, strings.ToLower(str)) {
					v = strings.ToLower(str)
				} else {
					res.Warnings = append(res.Warnings, fmt.Sprintf("%s: '%s' not in enum", name, str))
				}
			}
		}
		res.Normalized[name] = v
	}
	for _, name := range s.Optional {
		if v, found := fields[name]; found {
			res.Normalized[name] = v
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func resolve(fields map[string]any, name string) (any, bool) {
	if v, ok := fields[name]; ok && v != nil {
		return v, true
	}
	for _, legacy := range legacyNames[name] {
		if v, ok := fields[legacy]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
