// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// RuleType is the closed set of requirement kinds the extractor may emit.
type RuleType string

const (
	RuleDataQualityThreshold         RuleType = "data_quality_threshold"
	RuleOwnershipCategory            RuleType = "ownership_category"
	RuleBeneficialOwnershipThreshold RuleType = "beneficial_ownership_threshold"
	RuleDocumentationRequirement     RuleType = "documentation_requirement"
	RuleUpdateRequirement            RuleType = "update_requirement"
	RuleUpdateTimeline               RuleType = "update_timeline"
	RuleControlRequirement           RuleType = "control_requirement"
	RuleRiskStatement                RuleType = "risk_statement"
)

// unknownRuleCode prefixes IDs for rule types outside the closed set.
const unknownRuleCode = "UNK"

var ruleTypeCodes = map[RuleType]string{
	RuleDataQualityThreshold:         "DQ",
	RuleOwnershipCategory:            "OWN",
	RuleBeneficialOwnershipThreshold: "BO",
	RuleDocumentationRequirement:     "DOC",
	RuleUpdateRequirement:            "UPD",
	RuleUpdateTimeline:               "TL",
	RuleControlRequirement:           "CTL",
	RuleRiskStatement:                "RSK",
}

// RuleTypes lists every known rule type in declaration order.
func RuleTypes() []RuleType {
	return []RuleType{
		RuleDataQualityThreshold,
		RuleOwnershipCategory,
		RuleBeneficialOwnershipThreshold,
		RuleDocumentationRequirement,
		RuleUpdateRequirement,
		RuleUpdateTimeline,
		RuleControlRequirement,
		RuleRiskStatement,
	}
}

// Valid reports whether r belongs to the closed set.
func (r RuleType) Valid() bool {
	_, ok := ruleTypeCodes[r]
	return ok
}

// Code returns the short ID prefix for r, or "UNK".
func (r RuleType) Code() string {
	if code, ok := ruleTypeCodes[r]; ok {
		return code
	}
	return unknownRuleCode
}
