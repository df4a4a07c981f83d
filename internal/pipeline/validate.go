// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/compliance-engine/internal/enrich"
	"github.com/pdiddy/compliance-engine/internal/metrics"
	"github.com/pdiddy/compliance-engine/internal/repair"
	"github.com/pdiddy/compliance-engine/internal/schema"
	"github.com/pdiddy/compliance-engine/internal/score"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// RejectedCap is the highest confidence a requirement that still fails
// schema validation after repair may carry.
const RejectedCap = 0.60

// FragmentWarningPronoun marks a description that opens with a pronoun
// referring to a neighbouring fragment.
const FragmentWarningPronoun = "starts_with_demonstrative_pronoun"

// validationOutcome is what the validation stage contributes to the run.
type validationOutcome struct {
	accepted []types.Requirement

	inferenceRejected int
	belowThreshold    int
	ungrounded        int

	// dropped counts filtered requirements per source fragment, and kept
	// counts the survivors.
	dropped map[string]int
	kept    map[string]int
}

// validate repairs, scores and filters extracted requirements. The input
// slice is not modified.
func (p *Pipeline) validate(ctx context.Context, rc runContext, fragments []types.Fragment, reqs []types.Requirement) validationOutcome {
	source := make(map[string]string, len(fragments))
	for _, f := range fragments {
		source[f.ID] = f.Text
	}
	vo := validationOutcome{dropped: map[string]int{}, kept: map[string]int{}}

	for _, in := range reqs {
		req := Validate(in)
		result := score.Score(req)
		req.Score = &result
		req.Confidence = result.Score
		if req.Validation.Status == types.ValidationRejected {
			req.Confidence = math.Min(req.Confidence, RejectedCap)
		}
		fragID := req.Metadata.SourceChunkID

		switch {
		case result.Classification == types.GroundingInference:
			vo.inferenceRejected++
			vo.dropped[fragID]++
			p.metrics.RecordRequirements(metrics.OutcomeInferenceRejected, 1)
			p.log.Warn(ctx, "requirement_inference_rejected",
				zap.String("requirement_id", req.ID),
				zap.String("description", truncate(req.Description, 100)),
			)
			continue
		case req.Confidence < rc.minConfidence:
			vo.belowThreshold++
			vo.dropped[fragID]++
			p.metrics.RecordRequirements(metrics.OutcomeBelowThreshold, 1)
			p.log.Info(ctx, "requirement_below_threshold",
				zap.String("requirement_id", req.ID),
				zap.Float64("confidence", req.Confidence),
				zap.Float64("threshold", rc.minConfidence),
			)
			continue
		case !score.Contained(req.GroundedIn, source[fragID]):
			vo.ungrounded++
			vo.dropped[fragID]++
			p.metrics.RecordRequirements(metrics.OutcomeUngrounded, 1)
			p.log.Warn(ctx, "requirement_ungrounded",
				zap.String("requirement_id", req.ID),
				zap.String("source_chunk_id", fragID),
			)
			continue
		}

		if StartsWithPronoun(req.Description, p.cfg.Extraction.FragmentPronouns) {
			req.FragmentWarning = FragmentWarningPronoun
			p.log.Warn(ctx, "requirement_fragment_detected",
				zap.String("requirement_id", req.ID),
				zap.String("description", truncate(req.Description, 100)),
			)
		}

		vo.kept[fragID]++
		vo.accepted = append(vo.accepted, enrich.Enrich(req))
	}
	return vo
}

// Validate checks req against its schema, repairs it when fields are
// missing, and records the outcome in Validation.
func Validate(req types.Requirement) types.Requirement {
	valid, missing := schema.Validate(req)
	if valid {
		out := req.Clone()
		out.Validation = types.Validation{Status: types.ValidationValid}
		return out
	}

	repaired, _ := repair.AttemptRepair(req, missing)
	if ok, still := schema.Validate(repaired); !ok {
		repaired.Validation.Status = types.ValidationRejected
		repaired.Validation.MissingFields = still
		return repaired
	}
	repaired.Validation.Status = types.ValidationRepaired
	repaired.Validation.MissingFields = nil
	return repaired
}

// StartsWithPronoun reports whether the first word of desc is one of
// pronouns, case-insensitively.
func StartsWithPronoun(desc string, pronouns []string) bool {
	fields := strings.Fields(strings.ToLower(desc))
	if len(fields) == 0 {
		return false
	}
	first := strings.TrimFunc(fields[0], func(r rune) bool {
		return !('a' <= r && r <= 'z')
	})
	return slices.Contains(pronouns, first)
}

// belowThresholdSkips records fragments whose extracted requirements were
// all filtered out and that have no other skip record.
func belowThresholdSkips(vo validationOutcome, existing []types.SkippedFragment) []types.SkippedFragment {
	recorded := map[string]bool{}
	for _, sk := range existing {
		recorded[sk.FragmentID] = true
	}
	var ids []string
	for id, n := range vo.dropped {
		if n > 0 && vo.kept[id] == 0 && !recorded[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]types.SkippedFragment, len(ids))
	for i, id := range ids {
		out[i] = types.SkippedFragment{
			FragmentID: id,
			Reason:     types.SkipBelowThreshold,
			Detail:     fmt.Sprintf("%d requirements dropped by confidence or grounding filters", vo.dropped[id]),
		}
	}
	return out
}

// reconcileSkips drops skip records for fragments that ended with an
// accepted requirement (overlapping batches see a fragment twice) and
// duplicate (fragment, reason) records. It returns the surviving records
// and the sorted IDs of fragments with zero extractions.
func reconcileSkips(skipped []types.SkippedFragment, final []types.Requirement) ([]types.SkippedFragment, []string) {
	accepted := map[string]bool{}
	for _, r := range final {
		accepted[r.Metadata.SourceChunkID] = true
	}

	type key struct {
		id     string
		reason types.SkipReason
	}
	seen := map[key]bool{}
	zero := map[string]bool{}
	out := []types.SkippedFragment{}
	for _, sk := range skipped {
		k := key{sk.FragmentID, sk.Reason}
		if accepted[sk.FragmentID] || seen[k] {
			continue
		}
		seen[k] = true
		zero[sk.FragmentID] = true
		out = append(out, sk)
	}

	ids := make([]string, 0, len(zero))
	for id := range zero {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return out, ids
}
