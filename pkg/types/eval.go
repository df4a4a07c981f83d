// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Severity grades an evaluation issue or an overall failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FailureType names the dominant quality failure of a run.
type FailureType string

const (
	FailureNone          FailureType = "none"
	FailureCoverage      FailureType = "coverage"
	FailureTestability   FailureType = "testability"
	FailureGrounding     FailureType = "grounding"
	FailureSchema        FailureType = "schema"
	FailureDedup         FailureType = "dedup"
	FailureHallucination FailureType = "hallucination"
	FailureMulti         FailureType = "multi"
)

// TestabilityIssue flags a requirement without a measurable pass/fail condition.
type TestabilityIssue struct {
	RequirementID string   `json:"req_id" yaml:"req_id"`
	Issues        []string `json:"issues" yaml:"issues"`
	Severity      Severity `json:"severity" yaml:"severity"`
}

// GroundingIssue flags a requirement with weak or missing grounding.
type GroundingIssue struct {
	RequirementID  string                  `json:"req_id" yaml:"req_id"`
	Issues         []string                `json:"issues" yaml:"issues"`
	Severity       Severity                `json:"severity" yaml:"severity"`
	Classification GroundingClassification `json:"grounding_classification,omitempty" yaml:"grounding_classification,omitempty"`
}

// HallucinationFlag records hallucination risk for one requirement.
type HallucinationFlag struct {
	RequirementID string   `json:"req_id" yaml:"req_id"`
	Flags         []string `json:"flags" yaml:"flags"`
	Risk          Severity `json:"risk" yaml:"risk"`
	Confidence    float64  `json:"confidence" yaml:"confidence"`
	Pass          int      `json:"iteration" yaml:"iteration"`
}

// SchemaComplianceIssue records canonical schema violations.
type SchemaComplianceIssue struct {
	RequirementID string   `json:"req_id" yaml:"req_id"`
	RuleType      RuleType `json:"rule_type" yaml:"rule_type"`
	MissingFields []string `json:"missing_fields" yaml:"missing_fields"`
	InvalidFields []string `json:"invalid_fields" yaml:"invalid_fields"`
	Severity      Severity `json:"severity" yaml:"severity"`
}

// DuplicatePair is a pair of same-type requirements above the dedup threshold.
type DuplicatePair struct {
	RequirementA string   `json:"req_id_a" yaml:"req_id_a"`
	RequirementB string   `json:"req_id_b" yaml:"req_id_b"`
	Similarity   float64  `json:"similarity" yaml:"similarity"`
	RuleType     RuleType `json:"rule_type" yaml:"rule_type"`
}

// EvalReport is the diagnostic summary of a run's extracted requirements.
// It is built once and never modified afterwards.
type EvalReport struct {
	// Coverage.
	TotalFragments     int      `json:"total_chunks" yaml:"total_chunks"`
	FragmentsProcessed int      `json:"chunks_processed" yaml:"chunks_processed"`
	FragmentsWithZero  []string `json:"chunks_with_zero_extractions" yaml:"chunks_with_zero_extractions"`
	CoverageRatio      float64  `json:"coverage_ratio" yaml:"coverage_ratio"`

	// Requirement metrics.
	TotalRequirements      int              `json:"total_requirements" yaml:"total_requirements"`
	RequirementsByType     map[RuleType]int `json:"requirements_by_type" yaml:"requirements_by_type"`
	AvgConfidence          float64          `json:"avg_confidence" yaml:"avg_confidence"`
	ConfidenceDistribution map[string]int   `json:"confidence_distribution" yaml:"confidence_distribution"`

	// Quality checks.
	TestabilityIssues      []TestabilityIssue      `json:"testability_issues" yaml:"testability_issues"`
	GroundingIssues        []GroundingIssue        `json:"grounding_issues" yaml:"grounding_issues"`
	HallucinationFlags     []HallucinationFlag     `json:"hallucination_flags" yaml:"hallucination_flags"`
	SchemaComplianceIssues []SchemaComplianceIssue `json:"schema_compliance_issues" yaml:"schema_compliance_issues"`

	// Deduplication.
	UniqueCount         int             `json:"unique_requirement_count" yaml:"unique_requirement_count"`
	PotentialDuplicates []DuplicatePair `json:"potential_duplicates" yaml:"potential_duplicates"`
	DedupRatio          float64         `json:"dedup_ratio" yaml:"dedup_ratio"`

	// Schema coverage.
	SchemaEntities int            `json:"schema_entities" yaml:"schema_entities"`
	SchemaCoverage map[string]int `json:"schema_coverage" yaml:"schema_coverage"`

	// Decision signals.
	FailureType     FailureType `json:"failure_type" yaml:"failure_type"`
	FailureSeverity Severity    `json:"failure_severity" yaml:"failure_severity"`
	IsRetryable     bool        `json:"is_retryable" yaml:"is_retryable"`

	Suggestions []string `json:"remediation_suggestions" yaml:"remediation_suggestions"`

	EvalTimestamp  string `json:"eval_timestamp" yaml:"eval_timestamp"`
	ExtractionPass int    `json:"extraction_iteration" yaml:"extraction_iteration"`
	PromptVersion  string `json:"prompt_version" yaml:"prompt_version"`

	OverallQualityScore float64 `json:"overall_quality_score" yaml:"overall_quality_score"`
}

// SchemaComplianceRatio is 1 - (requirements with schema issues / total).
func (r EvalReport) SchemaComplianceRatio() float64 {
	total := r.TotalRequirements
	if total < 1 {
		total = 1
	}
	return 1.0 - float64(len(r.SchemaComplianceIssues))/float64(total)
}

// RouterSignal is the compact view used to decide whether to retry a pass.
type RouterSignal struct {
	FailureType         FailureType `json:"failure_type"`
	FailureSeverity     Severity    `json:"failure_severity"`
	IsRetryable         bool        `json:"is_retryable"`
	CoverageRatio       float64     `json:"coverage_ratio"`
	AvgConfidence       float64     `json:"avg_confidence"`
	OverallQualityScore float64     `json:"overall_quality_score"`
}

// RouterSignal returns the routing view of the report.
func (r EvalReport) RouterSignal() RouterSignal {
	return RouterSignal{
		FailureType:         r.FailureType,
		FailureSeverity:     r.FailureSeverity,
		IsRetryable:         r.IsRetryable,
		CoverageRatio:       r.CoverageRatio,
		AvgConfidence:       r.AvgConfidence,
		OverallQualityScore: r.OverallQualityScore,
	}
}
