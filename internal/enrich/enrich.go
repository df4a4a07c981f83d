// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich derives control metadata for accepted requirements so that
// each can be tested as an operational control.
package enrich

import (
	"regexp"
	"slices"
	"strings"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// Risk categories of the enterprise risk taxonomy.
const (
	RiskDataIntegrity        = "R001_data_integrity"
	RiskRegulatoryCompliance = "R002_regulatory_compliance"
	RiskOperational          = "R003_operational"
	RiskSystemAvailability   = "R004_system_availability"
	RiskVendorThirdParty     = "R005_vendor_third_party"
)

// Automation levels.
const (
	AutomationAutomated = "automated"
	AutomationManual    = "manual"
	AutomationHybrid    = "hybrid"
)

const (
	defaultAppliesTo = "relevant records"
	defaultObjective = "Ensure compliance with regulatory requirements."
	defaultOwner     = "Chief Compliance Officer"
	defaultEvidence  = "Compliance documentation"
	defaultSystem    = "core_banking_platform"
	maxRisks         = 3
	maxSystems       = 3
)

var objectiveTemplates = map[types.RuleType]string{
	types.RuleDataQualityThreshold: "Ensure {applies_to} meets quality standards to support " +
		"FDIC deposit insurance calculations and regulatory compliance.",
	types.RuleUpdateTimeline: "Ensure timely remediation of {applies_to} issues within regulatory " +
		"timeframes to maintain compliance and data integrity.",
	types.RuleDocumentationRequirement: "Maintain required documentation for {applies_to} to support " +
		"regulatory examination and audit requirements.",
	types.RuleUpdateRequirement: "Ensure {applies_to} is updated per regulatory requirements " +
		"to maintain accurate recordkeeping.",
	types.RuleBeneficialOwnershipThreshold: "Identify and verify beneficial owners meeting ownership thresholds " +
		"to comply with CIP/KYC and FDIC Part 370 requirements.",
	types.RuleOwnershipCategory: "Accurately classify account ownership categories to ensure " +
		"correct FDIC deposit insurance coverage determination.",
}

var riskMapping = map[types.RuleType][]string{
	types.RuleDataQualityThreshold:         {RiskDataIntegrity, RiskRegulatoryCompliance},
	types.RuleUpdateTimeline:               {RiskOperational, RiskRegulatoryCompliance},
	types.RuleDocumentationRequirement:     {RiskRegulatoryCompliance, RiskOperational},
	types.RuleUpdateRequirement:            {RiskDataIntegrity, RiskRegulatoryCompliance},
	types.RuleBeneficialOwnershipThreshold: {RiskRegulatoryCompliance, RiskDataIntegrity},
	types.RuleOwnershipCategory:            {RiskDataIntegrity, RiskRegulatoryCompliance},
}

var ownerMapping = map[types.RuleType]string{
	types.RuleDataQualityThreshold:         "Manager, Data Governance",
	types.RuleUpdateTimeline:               "VP Compliance Operations",
	types.RuleDocumentationRequirement:     "Manager, Deposit Compliance",
	types.RuleUpdateRequirement:            "VP Operations",
	types.RuleBeneficialOwnershipThreshold: "Chief Compliance Officer",
	types.RuleOwnershipCategory:            "Manager, Deposit Compliance",
}

var evidenceTypes = map[types.RuleType][]string{
	types.RuleDataQualityThreshold: {
		"Reconciliation report (signed, dated)",
		"System data quality report",
		"Exception log with resolution",
	},
	types.RuleUpdateTimeline: {
		"Remediation tracking log",
		"SLA compliance report",
		"Escalation email chain",
	},
	types.RuleDocumentationRequirement: {
		"Signed certification document",
		"Audit trail/approval log",
		"Document retention record",
	},
	types.RuleUpdateRequirement: {
		"Update completion log",
		"System change record",
		"Approval workflow evidence",
	},
	types.RuleBeneficialOwnershipThreshold: {
		"Beneficial owner identification form",
		"CIP/KYC documentation",
		"Verification confirmation",
	},
	types.RuleOwnershipCategory: {
		"Account classification report",
		"Ownership verification documentation",
		"Sampling workpaper",
	},
}

// keywordSet is an ordered keyword table entry. A keyword ending in "*"
// matches as a word prefix; all others match whole words.
type keywordSet struct {
	Name     string
	Keywords []string
}

var systemKeywords = []keywordSet{
	{"account_opening_system", []string{"account opening", "new account", "onboarding"}},
	{"core_banking_platform", []string{"core system", "deposit", "balance", "account record"}},
	{"deposit_insurance_file_system", []string{"fdic", "deposit insurance", "part 370"}},
	{"compliance_reporting_system", []string{"compliance", "reporting", "regulatory"}},
	{"general_ledger", []string{"gl", "ledger", "reconcil*"}},
	{"tax_id_validation_service", []string{"tin", "ssn", "ein", "tax id"}},
}

var riskKeywords = []keywordSet{
	{RiskSystemAvailability, []string{"system*", "availability", "uptime"}},
	{RiskVendorThirdParty, []string{"vendor*", "third-party", "external"}},
}

var (
	automatedKeywords = []string{"system*", "automated", "real-time", "api", "validation service"}
	manualKeywords    = []string{"sampling", "review*", "manual*", "quarterly", "annual*"}
)

var (
	matcherCache = map[string]*regexp.Regexp{}
	wordRun      = regexp.MustCompile(`\w+`)
)

func init() {
	var all []string
	for _, set := range append(append([]keywordSet{}, systemKeywords...), riskKeywords...) {
		all = append(all, set.Keywords...)
	}
	all = append(all, automatedKeywords...)
	all = append(all, manualKeywords...)
	for _, kw := range all {
		matcherCache[kw] = compileKeyword(kw)
	}
}

func compileKeyword(kw string) *regexp.Regexp {
	if stem, ok := strings.CutSuffix(kw, "*"); ok {
		return regexp.MustCompile(`\b` + regexp.QuoteMeta(stem))
	}
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
}

func matches(text, kw string) bool {
	return matcherCache[kw].MatchString(text)
}

// Enrich returns a copy of req with control metadata attached.
func Enrich(req types.Requirement) types.Requirement {
	out := req.Clone()
	out.Control = Control(req)
	return out
}

// Control derives the control metadata for req.
func Control(req types.Requirement) *types.ControlMetadata {
	desc := strings.ToLower(req.Description)
	systems, source, keywords := Systems(req)
	ctl := &types.ControlMetadata{
		ControlObjective:      Objective(req),
		RiskAddressed:         Risks(req.RuleType, desc),
		ControlOwner:          Owner(req),
		EvidenceType:          Evidence(req.RuleType),
		Automation:            Automation(desc),
		SystemMapping:         systems,
		SystemMappingSource:   source,
		SystemMappingKeywords: keywords,
	}
	if rw := ActionableDescription(req); len(rw.Replacements) > 0 {
		ctl.ActionableDescription = rw.Text
		ctl.VerbReplacements = rw.Replacements
	}
	return ctl
}

// Objective renders the control objective. An extracted control_objective
// attribute wins over the template.
func Objective(req types.Requirement) string {
	if v := types.AttributeString(req.Attributes, "control_objective"); v != "" {
		return v
	}
	tmpl, ok := objectiveTemplates[req.RuleType]
	if !ok {
		return defaultObjective
	}
	appliesTo := types.AttributeString(req.Attributes, "applies_to")
	if appliesTo == "" {
		appliesTo = defaultAppliesTo
	}
	return collapseDoubled(strings.ReplaceAll(tmpl, "{applies_to}", appliesTo))
}

// Risks maps a rule type and lowercased description to at most three risks.
func Risks(rt types.RuleType, desc string) []string {
	risks, ok := riskMapping[rt]
	if !ok {
		risks = []string{RiskRegulatoryCompliance}
	}
	risks = append([]string(nil), risks...)
	for _, set := range riskKeywords {
		if containsAny(desc, set.Keywords) && !slices.Contains(risks, set.Name) {
			risks = append(risks, set.Name)
		}
	}
	if len(risks) > maxRisks {
		risks = risks[:maxRisks]
	}
	return risks
}

// Owner returns the responsible party, or the default owner of the rule type.
func Owner(req types.Requirement) string {
	if v := types.AttributeString(req.Attributes, "responsible_party"); v != "" {
		return v
	}
	if v, ok := ownerMapping[req.RuleType]; ok {
		return v
	}
	return defaultOwner
}

// Evidence lists the evidence types expected for a rule type.
func Evidence(rt types.RuleType) []string {
	if v, ok := evidenceTypes[rt]; ok {
		return append([]string(nil), v...)
	}
	return []string{defaultEvidence}
}

// Automation votes automated against manual keywords in a lowercased
// description. A tie is hybrid.
func Automation(desc string) string {
	auto, manual := countMatches(desc, automatedKeywords), countMatches(desc, manualKeywords)
	switch {
	case auto > manual:
		return AutomationAutomated
	case manual > auto:
		return AutomationManual
	default:
		return AutomationHybrid
	}
}

// Systems maps req to systems of record. An extractor-supplied data_source
// is used as is; otherwise systems are inferred from description keywords,
// falling back to the core banking platform.
func Systems(req types.Requirement) (systems []string, source string, keywords []string) {
	if c := types.Common(req.Attributes); c != nil && c.DataSource != "" && c.DataSourceSource != types.SourceInferred {
		return []string{c.DataSource}, types.SystemMappingExtracted, nil
	}

	desc := strings.ToLower(req.Description)
	for _, set := range systemKeywords {
		for _, kw := range set.Keywords {
			if matches(desc, kw) {
				systems = append(systems, set.Name)
				keywords = append(keywords, strings.TrimSuffix(kw, "*"))
				break
			}
		}
	}
	if len(systems) == 0 {
		return []string{defaultSystem}, types.SystemMappingDefaultTemplate, nil
	}
	if len(systems) > maxSystems {
		systems, keywords = systems[:maxSystems], keywords[:maxSystems]
	}
	return systems, types.SystemMappingKeywordInferred, keywords
}

// collapseDoubled removes immediately repeated words ("data data" becomes
// "data"), ignoring case.
func collapseDoubled(s string) string {
	var b strings.Builder
	last, prevWord := 0, ""
	for _, loc := range wordRun.FindAllStringIndex(s, -1) {
		word := s[loc[0]:loc[1]]
		gap := s[last:loc[0]]
		if prevWord != "" && strings.TrimSpace(gap) == "" && gap != "" && strings.EqualFold(word, prevWord) {
			last = loc[1]
			continue
		}
		b.WriteString(s[last:loc[1]])
		last, prevWord = loc[1], word
	}
	b.WriteString(s[last:])
	return b.String()
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if matches(text, kw) {
			n++
		}
	}
	return n
}

func containsAny(text string, keywords []string) bool {
	return countMatches(text, keywords) > 0
}
