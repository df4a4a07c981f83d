// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gate routes a run to accept, human review, or reject from the
// schema-discovery confidence and the quality report.
package gate

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// CheckNoSchemaMap is the failing check recorded when no schema map exists.
const CheckNoSchemaMap = "no_schema_map"

// Input is what the gate decides on.
type Input struct {
	// SchemaConfidence is the mean schema-discovery confidence.
	SchemaConfidence float64

	// DocumentFormat selects the thresholds.
	DocumentFormat string

	// Report is optional; without it only confidence is checked.
	Report *types.EvalReport
}

// Gate applies per-format thresholds.
type Gate struct {
	cfg types.GateConfig
	log *logging.Logger
}

// New creates a Gate. A nil logger discards output.
func New(cfg types.GateConfig, log *logging.Logger) *Gate {
	if log == nil {
		log = logging.NewNop()
	}
	return &Gate{cfg: cfg, log: log.Named("gate")}
}

// Decide routes one run. Any failing check rejects; confidence at or above
// auto_accept with no soft flags accepts; confidence at or above
// human_review goes to review. The outcome never improves as confidence
// falls.
func (g *Gate) Decide(ctx context.Context, in Input) types.GateDecision {
	th := g.cfg.For(in.DocumentFormat)
	conf := in.SchemaConfidence

	failing := []string{}
	flags := []string{}

	if conf < th.HumanReview {
		failing = append(failing, fmt.Sprintf("avg_confidence=%.3f < %s", conf, num(th.HumanReview)))
	} else if conf < th.AutoAccept {
		flags = append(flags, fmt.Sprintf("avg_confidence=%.3f < %s", conf, num(th.AutoAccept)))
	}

	if r := in.Report; r != nil {
		if ratio := r.SchemaComplianceRatio(); ratio < th.MinSchemaCompliance {
			failing = append(failing, fmt.Sprintf("schema_compliance=%s < %s", pct(ratio), pct(th.MinSchemaCompliance)))
		}
		if r.CoverageRatio < th.MinCoverage {
			failing = append(failing, fmt.Sprintf("coverage=%s < %s", pct(r.CoverageRatio), pct(th.MinCoverage)))
		}
		if n := len(r.TestabilityIssues); n > 0 {
			flags = append(flags, fmt.Sprintf("testability_issues=%d", n))
		}
		if n := len(r.HallucinationFlags); n > 0 {
			flags = append(flags, fmt.Sprintf("hallucination_flags=%d", n))
		}
	}

	d := types.GateDecision{
		Score:             types.Round(conf, 3),
		ThresholdsApplied: th,
		FailingChecks:     failing,
		ConditionalFlags:  flags,
	}
	switch {
	case len(failing) > 0:
		d.Decision = types.DecisionReject
		d.Rationale = "Failed checks: " + strings.Join(failing, "; ")
	case conf >= th.AutoAccept && len(flags) == 0:
		d.Decision = types.DecisionAccept
		d.Rationale = fmt.Sprintf("All thresholds met. Confidence=%.3f", conf)
	case conf >= th.HumanReview:
		d.Decision = types.DecisionHumanReview
		reason := "confidence below auto_accept"
		if len(flags) > 0 {
			reason = strings.Join(flags, "; ")
		}
		d.Rationale = "Needs review: " + reason
	default:
		d.Decision = types.DecisionReject
		d.Rationale = fmt.Sprintf("Confidence %.3f below minimum %s", conf, num(th.HumanReview))
	}

	g.log.Info(ctx, "gate_decision",
		zap.String("decision", string(d.Decision)),
		zap.Float64("schema_confidence", conf),
		zap.Strings("failing_checks", failing),
		zap.Strings("conditional_flags", flags),
	)
	return d
}

// NoSchema is the decision for a run without a schema map.
func NoSchema() types.GateDecision {
	return types.GateDecision{
		Decision:         types.DecisionReject,
		FailingChecks:    []string{CheckNoSchemaMap},
		ConditionalFlags: []string{},
		Rationale:        "No schema map available for evaluation.",
	}
}

// LoadThresholds reads a YAML file of the form
//
//	thresholds:
//	  default: {auto_accept: 0.85, human_review: 0.5, ...}
//	  regulatory_docx: {...}
func LoadThresholds(path string) (types.GateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.GateConfig{}, fmt.Errorf("reading gate thresholds: %w", err)
	}
	var cfg types.GateConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return types.GateConfig{}, fmt.Errorf("parsing gate thresholds %s: %w", path, err)
	}
	for format, th := range cfg.Thresholds {
		if th.HumanReview > th.AutoAccept {
			return types.GateConfig{}, fmt.Errorf("gate thresholds %q: human_review %v exceeds auto_accept %v",
				format, th.HumanReview, th.AutoAccept)
		}
	}
	return cfg, nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
