// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics holds the Prometheus instruments recorded by the
// extraction pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "compliance_engine"

// Requirement outcomes.
const (
	OutcomeAccepted          = "accepted"
	OutcomeInferenceRejected = "inference_rejected"
	OutcomeBelowThreshold    = "below_threshold"
	OutcomeUngrounded        = "ungrounded"
	OutcomeDuplicate         = "duplicate"
)

// Metrics holds Prometheus metrics for the extraction pipeline.
//
// Metrics:
//   - compliance_engine_pipeline_batches_total{result}
//   - compliance_engine_pipeline_llm_calls_total
//   - compliance_engine_pipeline_llm_retries_total
//   - compliance_engine_pipeline_tokens_total{direction}
//   - compliance_engine_pipeline_requirements_total{outcome}
//   - compliance_engine_pipeline_fragments_skipped_total{reason}
//   - compliance_engine_pipeline_gate_decisions_total{decision}
//   - compliance_engine_pipeline_batch_duration_seconds
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BatchesTotal          *prometheus.CounterVec
	LLMCallsTotal         prometheus.Counter
	LLMRetriesTotal       prometheus.Counter
	TokensTotal           *prometheus.CounterVec
	RequirementsTotal     *prometheus.CounterVec
	FragmentsSkippedTotal *prometheus.CounterVec
	GateDecisionsTotal    *prometheus.CounterVec
	BatchDuration         prometheus.Histogram
}

// New creates the pipeline metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "batches_total",
				Help:      "Total number of batches sent to the extractor",
			},
			[]string{"result"}, // "ok" or "failed"
		),
		LLMCallsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "llm_calls_total",
				Help:      "Total number of extractor calls, retries included",
			},
		),
		LLMRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "llm_retries_total",
				Help:      "Total number of extractor call retries",
			},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "tokens_total",
				Help:      "Total number of LLM tokens",
			},
			[]string{"direction"}, // "input" or "output"
		),
		RequirementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "requirements_total",
				Help:      "Total number of extracted requirements by outcome",
			},
			[]string{"outcome"},
		),
		FragmentsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "fragments_skipped_total",
				Help:      "Total number of fragments skipped by reason",
			},
			[]string{"reason"},
		),
		GateDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "gate_decisions_total",
				Help:      "Total number of gate decisions",
			},
			[]string{"decision"},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "batch_duration_seconds",
				Help:      "Duration of one batch extraction in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
		),
	}
}

// RecordBatch records a finished batch.
func (m *Metrics) RecordBatch(failed bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.BatchesTotal.WithLabelValues(result).Inc()
	m.BatchDuration.Observe(d.Seconds())
}

// RecordCall records one extractor call and its token usage.
func (m *Metrics) RecordCall(inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.Inc()
	m.TokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordRetry records one extractor retry.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.LLMRetriesTotal.Inc()
}

// RecordRequirements adds n requirements with the given outcome.
func (m *Metrics) RecordRequirements(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RequirementsTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordSkip records one skipped fragment.
func (m *Metrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.FragmentsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordDecision records one gate decision.
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(decision).Inc()
}
