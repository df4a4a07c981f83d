// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// SkipReason explains why a fragment produced no accepted requirement.
type SkipReason string

const (
	SkipNoExtractableContent SkipReason = "no_extractable_content"
	SkipParseError           SkipReason = "parse_error"
	SkipBelowThreshold       SkipReason = "below_threshold"
	SkipLLMError             SkipReason = "llm_error"
	SkipEmptyResponse        SkipReason = "empty_response"
)

// SkippedFragment records one unextracted fragment and why.
type SkippedFragment struct {
	FragmentID string     `json:"chunk_id" yaml:"chunk_id"`
	Reason     SkipReason `json:"skip_reason" yaml:"skip_reason"`
	Detail     string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// ExtractionMetadata summarizes one extraction run. It is built once at the
// end of a run and not modified afterwards.
type ExtractionMetadata struct {
	// RunID uniquely identifies the pipeline run.
	RunID string `json:"run_id" yaml:"run_id"`

	// ExtractionPass is 1 for the first pass and 2 for the retry pass.
	ExtractionPass int `json:"extraction_iteration" yaml:"extraction_iteration"`

	// TotalFragments is the number of input fragments.
	TotalFragments int `json:"total_chunks_processed" yaml:"total_chunks_processed"`

	// TotalBatches is the number of batches sent to the extractor.
	TotalBatches int `json:"total_batches" yaml:"total_batches"`

	// FailedBatches counts batches whose extractor call ultimately failed.
	FailedBatches int `json:"failed_batches" yaml:"failed_batches"`

	// TotalRequirements is the number of accepted requirements.
	TotalRequirements int `json:"total_requirements_extracted" yaml:"total_requirements_extracted"`

	// FragmentsWithZero lists fragments with no extraction, deduplicated and sorted.
	FragmentsWithZero []string `json:"chunks_with_zero_extractions" yaml:"chunks_with_zero_extractions"`

	// Skipped records every skipped fragment with its reason.
	Skipped []SkippedFragment `json:"skipped_chunks" yaml:"skipped_chunks"`

	// AvgConfidence is the mean confidence of accepted requirements.
	AvgConfidence float64 `json:"avg_confidence" yaml:"avg_confidence"`

	// RuleTypeDistribution counts accepted requirements per rule type.
	RuleTypeDistribution map[RuleType]int `json:"rule_type_distribution" yaml:"rule_type_distribution"`

	// PromptVersion identifies the prompt template used.
	PromptVersion string `json:"prompt_version" yaml:"prompt_version"`

	// Model is the extractor model identifier.
	Model string `json:"model_used" yaml:"model_used"`

	LLMCalls     int `json:"total_llm_calls" yaml:"total_llm_calls"`
	InputTokens  int `json:"total_input_tokens" yaml:"total_input_tokens"`
	OutputTokens int `json:"total_output_tokens" yaml:"total_output_tokens"`

	// InferenceRejectedCount counts requirements dropped for INFERENCE grounding.
	InferenceRejectedCount int `json:"inference_rejected_count" yaml:"inference_rejected_count"`

	// BelowThresholdCount counts requirements dropped under the pass threshold.
	BelowThresholdCount int `json:"below_threshold_count" yaml:"below_threshold_count"`

	// UngroundedRejectedCount counts requirements whose grounding span was
	// not found in the source fragment.
	UngroundedRejectedCount int `json:"ungrounded_rejected_count" yaml:"ungrounded_rejected_count"`

	// DuplicatesMerged counts requirements removed by deduplication.
	DuplicatesMerged int `json:"duplicates_merged" yaml:"duplicates_merged"`

	// Errors holds run-level problems that produced an empty result.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}
