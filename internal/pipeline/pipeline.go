// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates one extraction pass: batching, extraction,
// parsing, validation and repair, scoring, filtering, enrichment,
// deduplication, evaluation and gating.
//
// Batches run sequentially. Each stage returns a typed outcome that the
// orchestrator merges; nothing is shared between batches except the
// read-only run context.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/compliance-engine/internal/batch"
	"github.com/pdiddy/compliance-engine/internal/dedup"
	"github.com/pdiddy/compliance-engine/internal/eval"
	"github.com/pdiddy/compliance-engine/internal/extract"
	"github.com/pdiddy/compliance-engine/internal/gate"
	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/internal/metrics"
	"github.com/pdiddy/compliance-engine/internal/parse"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

var (
	// ErrTooManyBatchFailures aborts a run whose failed-batch fraction
	// exceeds the configured threshold.
	ErrTooManyBatchFailures = errors.New("too many batch failures")

	// ErrNoFragments is recorded when a run has no input fragments.
	ErrNoFragments = errors.New("no fragments provided")

	// ErrNoSchemaMap is recorded when a run has no schema map.
	ErrNoSchemaMap = errors.New("no schema map provided")
)

// RunInput is the input of one pass.
type RunInput struct {
	Fragments []types.Fragment
	SchemaMap *types.SchemaMap

	// Pass is 1 for the first pass and 2 for the retry pass; 0 means 1.
	Pass int
}

// Result is the outcome of one pass. Report and Decision are nil when the
// run produced no evaluation.
type Result struct {
	Requirements []types.Requirement
	Metadata     types.ExtractionMetadata
	Report       *types.EvalReport
	Decision     *types.GateDecision
}

// Pipeline runs extraction passes. It holds no per-run state and may be
// reused.
type Pipeline struct {
	cfg       types.PipelineConfig
	extractor extract.Extractor
	parser    *parse.Parser
	gate      *gate.Gate
	log       *logging.Logger
	metrics   *metrics.Metrics

	now   func() time.Time
	newID func() string
}

// New creates a Pipeline. A nil logger discards output and nil metrics
// record nothing.
func New(cfg types.PipelineConfig, extractor extract.Extractor, log *logging.Logger, m *metrics.Metrics) *Pipeline {
	if log == nil {
		log = logging.NewNop()
	}
	log = log.Named("pipeline")
	return &Pipeline{
		cfg:       cfg,
		extractor: extractor,
		parser:    parse.New(log),
		gate:      gate.New(cfg.Gate, log),
		log:       log,
		metrics:   m,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// runContext is the read-only state of one run.
type runContext struct {
	runID         string
	pass          int
	promptVersion string
	schemaMap     *types.SchemaMap
	system        string
	prompt        *extract.Prompt
	temperature   float64
	minConfidence float64
}

// Run executes one pass. Only systemic failure returns an error: too many
// failed batches, an unusable prompt, or cancellation. Missing input yields
// an empty result whose metadata lists the problem.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (Result, error) {
	pass := in.Pass
	if pass < 1 {
		pass = 1
	}
	runID := p.newID()
	ctx = logging.WithPass(logging.WithRunID(ctx, runID), pass)

	if len(in.Fragments) == 0 {
		p.log.Warn(ctx, "run_no_fragments")
		return p.empty(runID, pass, ErrNoFragments), nil
	}
	if in.SchemaMap == nil {
		p.log.Error(ctx, "run_no_schema_map")
		res := p.empty(runID, pass, ErrNoSchemaMap)
		decision := gate.NoSchema()
		res.Decision = &decision
		p.metrics.RecordDecision(string(decision.Decision))
		return res, nil
	}

	rc, err := p.newRunContext(runID, pass, in.SchemaMap)
	if err != nil {
		return Result{}, err
	}

	batches := batch.Build(in.Fragments, p.cfg.Extraction.BatchConfig)
	p.log.Info(ctx, "run_started",
		zap.Int("fragments", len(in.Fragments)),
		zap.Int("batches", len(batches)),
		zap.String("prompt_version", rc.promptVersion),
	)

	md := types.ExtractionMetadata{
		RunID:          runID,
		ExtractionPass: pass,
		TotalFragments: len(in.Fragments),
		TotalBatches:   len(batches),
		PromptVersion:  rc.promptVersion,
		Model:          p.cfg.Extraction.Model,
	}

	var (
		extracted []types.Requirement
		skipped   []types.SkippedFragment
	)
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		out := p.processBatch(ctx, rc, b)
		md.LLMCalls += out.calls
		md.InputTokens += out.inputTokens
		md.OutputTokens += out.outputTokens
		if out.failed {
			md.FailedBatches++
		}
		extracted = append(extracted, out.requirements...)
		skipped = append(skipped, out.skipped...)
	}

	if len(batches) > 0 && float64(md.FailedBatches)/float64(len(batches)) > p.cfg.Extraction.BatchFailureThreshold {
		p.log.Error(ctx, "run_failed",
			zap.Int("failed_batches", md.FailedBatches),
			zap.Int("batches", len(batches)),
		)
		return Result{}, fmt.Errorf("%w: %d/%d", ErrTooManyBatchFailures, md.FailedBatches, len(batches))
	}

	vo := p.validate(ctx, rc, in.Fragments, extracted)
	md.InferenceRejectedCount = vo.inferenceRejected
	md.BelowThresholdCount = vo.belowThreshold
	md.UngroundedRejectedCount = vo.ungrounded

	final := dedup.Deduplicate(vo.accepted, p.cfg.Dedup.Threshold)
	md.DuplicatesMerged = len(vo.accepted) - len(final)
	p.metrics.RecordRequirements(metrics.OutcomeDuplicate, md.DuplicatesMerged)
	p.metrics.RecordRequirements(metrics.OutcomeAccepted, len(final))
	if md.DuplicatesMerged > 0 {
		p.log.Info(ctx, "duplicates_merged", zap.Int("merged", md.DuplicatesMerged))
	}

	skipped = append(skipped, belowThresholdSkips(vo, skipped)...)
	md.Skipped, md.FragmentsWithZero = reconcileSkips(skipped, final)
	for _, sk := range md.Skipped {
		p.metrics.RecordSkip(string(sk.Reason))
	}
	summarize(&md, final)

	report := eval.Evaluate(eval.Input{
		Requirements:   final,
		Fragments:      in.Fragments,
		Pass:           pass,
		PromptVersion:  rc.promptVersion,
		SchemaMap:      in.SchemaMap,
		DedupThreshold: p.cfg.Dedup.Threshold,
		Now:            p.now(),
	})
	decision := p.gate.Decide(ctx, gate.Input{
		SchemaConfidence: in.SchemaMap.AvgConfidence,
		DocumentFormat:   in.SchemaMap.DocumentFormat,
		Report:           &report,
	})
	p.metrics.RecordDecision(string(decision.Decision))

	p.log.Info(ctx, "run_completed",
		zap.Int("requirements", md.TotalRequirements),
		zap.Float64("avg_confidence", md.AvgConfidence),
		zap.Int("failed_batches", md.FailedBatches),
		zap.String("failure_type", string(report.FailureType)),
		zap.Float64("quality_score", report.OverallQualityScore),
		zap.String("decision", string(decision.Decision)),
	)

	return Result{
		Requirements: final,
		Metadata:     md,
		Report:       &report,
		Decision:     &decision,
	}, nil
}

func (p *Pipeline) newRunContext(runID string, pass int, sm *types.SchemaMap) (runContext, error) {
	version := p.cfg.Extraction.PromptVersion
	if version == "" {
		version = extract.PromptVersionFor(pass)
	}
	prompt, err := extract.LoadPrompt(version)
	if err != nil {
		return runContext{}, fmt.Errorf("loading prompt: %w", err)
	}
	system, err := prompt.System(sm)
	if err != nil {
		return runContext{}, err
	}
	return runContext{
		runID:         runID,
		pass:          pass,
		promptVersion: version,
		schemaMap:     sm,
		system:        system,
		prompt:        prompt,
		temperature:   p.cfg.Extraction.TemperatureFor(pass),
		minConfidence: p.cfg.Extraction.MinConfidenceFor(pass),
	}, nil
}

func (p *Pipeline) empty(runID string, pass int, cause error) Result {
	return Result{
		Requirements: []types.Requirement{},
		Metadata: types.ExtractionMetadata{
			RunID:                runID,
			ExtractionPass:       pass,
			FragmentsWithZero:    []string{},
			Skipped:              []types.SkippedFragment{},
			RuleTypeDistribution: map[types.RuleType]int{},
			Model:                p.cfg.Extraction.Model,
			Errors:               []string{cause.Error()},
		},
	}
}

// summarize fills the accepted-requirement statistics.
func summarize(md *types.ExtractionMetadata, final []types.Requirement) {
	md.TotalRequirements = len(final)
	md.RuleTypeDistribution = map[types.RuleType]int{}
	var sum float64
	for _, r := range final {
		md.RuleTypeDistribution[r.RuleType]++
		sum += r.Confidence
	}
	if len(final) > 0 {
		md.AvgConfidence = types.Round(sum/float64(len(final)), 4)
	}
}
