// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Decision is the outcome of the confidence gate.
type Decision string

const (
	DecisionAccept      Decision = "accept"
	DecisionHumanReview Decision = "human_review"
	DecisionReject      Decision = "reject"
)

// GateDecision records how the gate routed a run and why.
type GateDecision struct {
	Decision          Decision       `json:"decision" yaml:"decision"`
	Score             float64        `json:"confidence_score" yaml:"confidence_score"`
	ThresholdsApplied GateThresholds `json:"thresholds_applied" yaml:"thresholds_applied"`
	FailingChecks     []string       `json:"failing_checks" yaml:"failing_checks"`
	ConditionalFlags  []string       `json:"conditional_flags" yaml:"conditional_flags"`
	Rationale         string         `json:"rationale" yaml:"rationale"`
}
