// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"math"
)

const (
	// MinConfidence is the lower bound of every Requirement confidence.
	MinConfidence = 0.50

	// MaxConfidence is the upper bound of every Requirement confidence.
	MaxConfidence = 0.99
)

// ClampConfidence bounds v to [MinConfidence, MaxConfidence].
func ClampConfidence(v float64) float64 {
	return math.Max(MinConfidence, math.Min(MaxConfidence, v))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ValidationStatus records the outcome of attribute validation and repair.
type ValidationStatus string

const (
	ValidationValid    ValidationStatus = "valid"
	ValidationRepaired ValidationStatus = "repaired"
	ValidationRejected ValidationStatus = "rejected"
)

// Validation holds the schema validation outcome for a Requirement.
type Validation struct {
	Status         ValidationStatus `json:"status" yaml:"status"`
	MissingFields  []string         `json:"missing_fields,omitempty" yaml:"missing_fields,omitempty"`
	RepairedFields []string         `json:"repaired_fields,omitempty" yaml:"repaired_fields,omitempty"`
	RepairApplied  bool             `json:"repair_applied,omitempty" yaml:"repair_applied,omitempty"`
}

// RequirementMetadata carries provenance for a Requirement.
type RequirementMetadata struct {
	// SourceChunkID is the ID of the fragment the requirement was extracted from.
	SourceChunkID string `json:"source_chunk_id" yaml:"source_chunk_id"`

	// SourceLocation is the fragment location in the source document.
	SourceLocation string `json:"source_location" yaml:"source_location"`

	// SchemaVersion is the version of the schema map used as prompt context.
	SchemaVersion string `json:"schema_version,omitempty" yaml:"schema_version,omitempty"`

	// PromptVersion identifies the prompt template used for extraction.
	PromptVersion string `json:"prompt_version,omitempty" yaml:"prompt_version,omitempty"`

	// ExtractionPass is 1 for the first pass and 2 for a retry pass.
	ExtractionPass int `json:"extraction_pass" yaml:"extraction_pass"`
}

// GroundingClassification grades textual fidelity between a requirement and
// the source text it cites.
type GroundingClassification string

const (
	GroundingExact      GroundingClassification = "EXACT"
	GroundingParaphrase GroundingClassification = "PARAPHRASE"
	GroundingInference  GroundingClassification = "INFERENCE"
)

// ConfidenceFeatures are the six independently computed confidence signals.
type ConfidenceFeatures struct {
	GroundingMatch   float64 `json:"grounding_match" yaml:"grounding_match"`
	Completeness     float64 `json:"completeness" yaml:"completeness"`
	Quantification   float64 `json:"quantification" yaml:"quantification"`
	SchemaCompliance float64 `json:"schema_compliance" yaml:"schema_compliance"`
	Coherence        float64 `json:"coherence" yaml:"coherence"`
	DomainSignals    float64 `json:"domain_signals" yaml:"domain_signals"`
}

// Total returns the raw, unclamped feature sum.
func (f ConfidenceFeatures) Total() float64 {
	return f.GroundingMatch + f.Completeness + f.Quantification +
		f.SchemaCompliance + f.Coherence + f.DomainSignals
}

// GroundingEvidence explains the grounding-match feature.
type GroundingEvidence struct {
	JaccardScore     float64  `json:"jaccard_score" yaml:"jaccard_score"`
	PhraseCount      int      `json:"phrase_count" yaml:"phrase_count"`
	MatchedPhrases   []string `json:"matched_phrases,omitempty" yaml:"matched_phrases,omitempty"`
	DescriptionWords int      `json:"description_words" yaml:"description_words"`
	GroundedWords    int      `json:"grounded_words" yaml:"grounded_words"`
	Intersection     int      `json:"intersection" yaml:"intersection"`
	Error            string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// ConfidenceResult is the output of scoring one Requirement.
type ConfidenceResult struct {
	Score                float64                 `json:"score" yaml:"score"`
	Features             ConfidenceFeatures      `json:"features" yaml:"features"`
	Classification       GroundingClassification `json:"classification" yaml:"classification"`
	Evidence             GroundingEvidence       `json:"evidence" yaml:"evidence"`
	Rationale            string                  `json:"rationale" yaml:"rationale"`
	RequiresManualReview bool                    `json:"requires_manual_review" yaml:"requires_manual_review"`
}

// SystemMappingSource values.
const (
	SystemMappingExtracted       = "extracted"
	SystemMappingKeywordInferred = "keyword_inferred"
	SystemMappingDefaultTemplate = "default_template"
)

// ControlMetadata operationalizes an accepted requirement as a testable control.
type ControlMetadata struct {
	ControlObjective      string   `json:"control_objective,omitempty" yaml:"control_objective,omitempty"`
	RiskAddressed         []string `json:"risk_addressed,omitempty" yaml:"risk_addressed,omitempty"`
	ControlOwner          string   `json:"control_owner,omitempty" yaml:"control_owner,omitempty"`
	EvidenceType          []string `json:"evidence_type,omitempty" yaml:"evidence_type,omitempty"`
	Automation            string   `json:"automation_level,omitempty" yaml:"automation_level,omitempty"`
	SystemMapping         []string `json:"system_mapping,omitempty" yaml:"system_mapping,omitempty"`
	SystemMappingSource   string   `json:"system_mapping_source,omitempty" yaml:"system_mapping_source,omitempty"`
	SystemMappingKeywords []string `json:"system_mapping_keywords,omitempty" yaml:"system_mapping_keywords,omitempty"`

	// ActionableDescription restates the description with vague verbs
	// replaced; empty when the description has none.
	ActionableDescription string            `json:"actionable_description,omitempty" yaml:"actionable_description,omitempty"`
	VerbReplacements      []VerbReplacement `json:"verb_replacements,omitempty" yaml:"verb_replacements,omitempty"`
}

// VerbReplacement records one vague verb rewritten as a specific action.
type VerbReplacement struct {
	OriginalVerb string `json:"original_verb" yaml:"original_verb"`
	Replacement  string `json:"replacement" yaml:"replacement"`
	Context      string `json:"context" yaml:"context"`
}

// Requirement is an atomic, testable regulatory obligation.
type Requirement struct {
	// ID is R-{CODE}-{hash6}; identical content always yields the same ID.
	ID string

	// RuleType is the closed-set kind of the requirement.
	RuleType RuleType

	// Description is the one-sentence statement of the obligation.
	Description string

	// GroundedIn is the verbatim span copied from the source fragment.
	GroundedIn string

	// Confidence is always within [MinConfidence, MaxConfidence].
	Confidence float64

	// Attributes is the type-specific payload; its variant matches RuleType.
	Attributes Attributes

	// Metadata carries provenance.
	Metadata RequirementMetadata

	// Validation is set once schema validation has run.
	Validation Validation

	// Score is set once the confidence scorer has run.
	Score *ConfidenceResult

	// Control is set for accepted requirements after enrichment.
	Control *ControlMetadata

	// FragmentWarning is non-empty when the description appears to depend on
	// context from a neighbouring fragment.
	FragmentWarning string
}

// Clone returns a copy whose attributes and nested results are independent
// of r.
func (r Requirement) Clone() Requirement {
	c := r
	c.Attributes = CloneAttributes(r.Attributes)
	c.Validation.MissingFields = append([]string(nil), r.Validation.MissingFields...)
	c.Validation.RepairedFields = append([]string(nil), r.Validation.RepairedFields...)
	if r.Score != nil {
		s := *r.Score
		s.Evidence.MatchedPhrases = append([]string(nil), r.Score.Evidence.MatchedPhrases...)
		c.Score = &s
	}
	if r.Control != nil {
		ctl := *r.Control
		ctl.VerbReplacements = append([]VerbReplacement(nil), r.Control.VerbReplacements...)
		c.Control = &ctl
	}
	return c
}

// Classification returns the grounding classification, or "" when unscored.
func (r Requirement) Classification() GroundingClassification {
	if r.Score == nil {
		return ""
	}
	return r.Score.Classification
}

// requirementGrounding is the serialized grounding object.
type requirementGrounding struct {
	JaccardScore   *float64                `json:"jaccard_score,omitempty"`
	Classification GroundingClassification `json:"classification,omitempty"`
	SourceText     string                  `json:"source_text,omitempty"`
}

// requirementOutput is the external JSON shape of a Requirement.
type requirementOutput struct {
	ID                   string                `json:"requirement_id"`
	RuleType             RuleType              `json:"rule_type"`
	Description          string                `json:"rule_description"`
	Confidence           float64               `json:"confidence"`
	Attributes           map[string]any        `json:"attributes"`
	Metadata             outputMetadata        `json:"metadata"`
	Grounding            *requirementGrounding `json:"grounding,omitempty"`
	Features             *ConfidenceFeatures   `json:"confidence_features,omitempty"`
	Rationale            string                `json:"confidence_rationale,omitempty"`
	RequiresManualReview bool                  `json:"requires_manual_review,omitempty"`
	ValidationStatus     ValidationStatus      `json:"validation_status,omitempty"`
	ControlObjective     string                `json:"control_objective,omitempty"`
	RiskAddressed        []string              `json:"risk_addressed,omitempty"`
	ControlOwner         string                `json:"control_owner,omitempty"`
	EvidenceType         []string              `json:"evidence_type,omitempty"`
	Automation           string                `json:"automation_level,omitempty"`
	SystemMapping        []string              `json:"system_mapping,omitempty"`
	ActionableDesc       string                `json:"actionable_description,omitempty"`
	VerbReplacements     []VerbReplacement     `json:"verb_replacements,omitempty"`
	FragmentWarning      string                `json:"fragment_warning,omitempty"`
}

type outputMetadata struct {
	SourceChunkID  string `json:"source_chunk_id"`
	SourceLocation string `json:"source_location"`
}

// Output returns the external representation of r: internal bookkeeping is
// dropped, control metadata is promoted to the top level, and system_mapping
// is suppressed when it only reflects the default template.
func (r Requirement) Output() map[string]any {
	data, _ := json.Marshal(r)
	var out map[string]any
	json.Unmarshal(data, &out)
	return out
}

// MarshalJSON encodes the external representation of r.
func (r Requirement) MarshalJSON() ([]byte, error) {
	out := requirementOutput{
		ID:               r.ID,
		RuleType:         r.RuleType,
		Description:      r.Description,
		Confidence:       Round(r.Confidence, 2),
		Attributes:       OutputAttributes(r.Attributes),
		Metadata:         outputMetadata{SourceChunkID: r.Metadata.SourceChunkID, SourceLocation: r.Metadata.SourceLocation},
		ValidationStatus: r.Validation.Status,
		FragmentWarning:  r.FragmentWarning,
	}

	g := &requirementGrounding{}
	if r.Score != nil {
		j := r.Score.Evidence.JaccardScore
		g.JaccardScore = &j
		g.Classification = r.Score.Classification
		features := r.Score.Features
		out.Features = &features
		out.Rationale = r.Score.Rationale
		out.RequiresManualReview = r.Score.RequiresManualReview
	}
	if r.GroundedIn != "" && r.GroundedIn != r.Description {
		g.SourceText = r.GroundedIn
	}
	if g.JaccardScore != nil || g.SourceText != "" {
		out.Grounding = g
	}

	if c := r.Control; c != nil {
		out.ControlObjective = c.ControlObjective
		out.RiskAddressed = c.RiskAddressed
		out.ControlOwner = c.ControlOwner
		out.EvidenceType = c.EvidenceType
		out.Automation = c.Automation
		out.ActionableDesc = c.ActionableDescription
		out.VerbReplacements = c.VerbReplacements
		if c.SystemMappingSource != SystemMappingDefaultTemplate {
			out.SystemMapping = c.SystemMapping
		}
	}

	return json.Marshal(out)
}
