// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/compliance-engine/internal/batch"
	"github.com/pdiddy/compliance-engine/internal/extract"
	"github.com/pdiddy/compliance-engine/internal/parse"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// maxDetailChars bounds the error detail stored with an llm_error skip.
const maxDetailChars = 200

// batchOutcome is what one batch contributes to the run.
type batchOutcome struct {
	requirements []types.Requirement
	skipped      []types.SkippedFragment

	calls        int
	inputTokens  int
	outputTokens int
	failed       bool
}

func (p *Pipeline) processBatch(ctx context.Context, rc runContext, b types.Batch) batchOutcome {
	start := time.Now()
	var out batchOutcome
	defer func() { p.metrics.RecordBatch(out.failed, time.Since(start)) }()

	user, err := rc.prompt.User(batch.Render(b))
	if err != nil {
		out.failed = true
		out.skipped = skipAll(b, types.SkipLLMError, truncate(err.Error(), maxDetailChars))
		p.log.Error(ctx, "batch_failed", zap.Int("batch", b.Index), zap.Error(err))
		return out
	}

	resp, err := p.extractor.Extract(ctx, extract.Request{
		System:      rc.system,
		User:        user,
		Temperature: rc.temperature,
		MaxTokens:   p.cfg.Extraction.MaxTokens,
	})
	switch {
	case errors.Is(err, extract.ErrEmptyResponse):
		p.recordCall(&out, resp)
		out.skipped = skipAll(b, types.SkipEmptyResponse, fmt.Sprintf("batch %d: empty response", b.Index))
		p.log.Info(ctx, "batch_completed", zap.Int("batch", b.Index), zap.Int("requirements", 0), zap.String("skip_reason", string(types.SkipEmptyResponse)))
		return out
	case err != nil:
		out.failed = true
		out.skipped = skipAll(b, types.SkipLLMError, truncate(err.Error(), maxDetailChars))
		p.log.Error(ctx, "batch_failed", zap.Int("batch", b.Index), zap.Error(err))
		return out
	}
	p.recordCall(&out, resp)

	if isEmptyText(resp.Text) {
		out.skipped = skipAll(b, types.SkipEmptyResponse, fmt.Sprintf("batch %d: empty response", b.Index))
		p.log.Info(ctx, "batch_completed", zap.Int("batch", b.Index), zap.Int("requirements", 0), zap.String("skip_reason", string(types.SkipEmptyResponse)))
		return out
	}

	parsed := p.parser.Parse(ctx, resp.Text, b, parse.RunInfo{
		SchemaVersion: rc.schemaMap.SchemaVersion,
		PromptVersion: rc.promptVersion,
		Pass:          rc.pass,
	})
	out.requirements = parsed.Requirements

	if len(parsed.Requirements) == 0 {
		reason := types.SkipNoExtractableContent
		detail := fmt.Sprintf("batch %d: no requirements extracted", b.Index)
		if parsed.ParseError {
			reason = types.SkipParseError
			detail = fmt.Errorf("batch %d: %w: %s", b.Index, extract.ErrMalformedJSON, strings.Join(parsed.Errors, "; ")).Error()
			detail = truncate(detail, maxDetailChars)
		}
		out.skipped = skipAll(b, reason, detail)
	}

	p.log.Info(ctx, "batch_completed",
		zap.Int("batch", b.Index),
		zap.Int("fragments", len(b.Fragments)),
		zap.Int("requirements", len(parsed.Requirements)),
		zap.Int("unknown_types", parsed.UnknownTypes),
		zap.Bool("parse_error", parsed.ParseError),
	)
	return out
}

func (p *Pipeline) recordCall(out *batchOutcome, resp extract.Response) {
	out.calls++
	out.inputTokens += resp.InputTokens
	out.outputTokens += resp.OutputTokens
	p.metrics.RecordCall(resp.InputTokens, resp.OutputTokens)
}

// isEmptyText reports whether the model produced nothing to parse.
func isEmptyText(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "[]", "null":
		return true
	}
	return false
}

func skipAll(b types.Batch, reason types.SkipReason, detail string) []types.SkippedFragment {
	out := make([]types.SkippedFragment, len(b.Fragments))
	for i, f := range b.Fragments {
		out[i] = types.SkippedFragment{FragmentID: f.ID, Reason: reason, Detail: detail}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
