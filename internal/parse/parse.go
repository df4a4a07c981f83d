// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package parse turns raw extractor output into Requirement records.
package parse

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// DefaultConfidence is assigned when an item carries no confidence.
const DefaultConfidence = 0.70

// RunInfo is the provenance stamped into every parsed requirement.
type RunInfo struct {
	SchemaVersion string
	PromptVersion string
	Pass          int
}

// Result is the outcome of parsing one extractor response.
type Result struct {
	// Requirements are the items that passed validation, in response order.
	Requirements []types.Requirement

	// ParseError is set when the payload was not decodable or at least one
	// item failed validation. Items with an unknown rule type do not set it.
	ParseError bool

	// Errors describes each failure.
	Errors []string

	// UnknownTypes counts items dropped for an unknown rule type.
	UnknownTypes int
}

// Parser converts extractor responses into requirements.
type Parser struct {
	log *logging.Logger
}

// New returns a Parser. A nil logger discards output.
func New(log *logging.Logger) *Parser {
	if log == nil {
		log = logging.NewNop()
	}
	return &Parser{log: log}
}

// Parse decodes raw as a JSON array of items (or a single object), strips a
// surrounding Markdown fence, and builds a Requirement per valid item.
func (p *Parser) Parse(ctx context.Context, raw string, batch types.Batch, info RunInfo) Result {
	var res Result

	var data any
	if err := json.Unmarshal([]byte(StripFence(raw)), &data); err != nil {
		p.log.Warn(ctx, "response_json_parse_error", zap.Error(err))
		res.ParseError = true
		res.Errors = append(res.Errors, fmt.Sprintf("decoding response: %v", err))
		return res
	}

	var items []any
	switch v := data.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		res.ParseError = true
		res.Errors = append(res.Errors, fmt.Sprintf("unexpected top-level JSON %T", data))
		return res
	}

	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			res.ParseError = true
			res.Errors = append(res.Errors, fmt.Sprintf("item %d: not an object", i))
			continue
		}

		rt := types.RuleType(stringField(obj, "rule_type"))
		if !rt.Valid() {
			p.log.Warn(ctx, "requirement_dropped_unknown_type", zap.Any("rule_type", obj["rule_type"]))
			res.UnknownTypes++
			continue
		}

		req, err := buildRequirement(obj, rt, batch, info)
		if err != nil {
			p.log.Warn(ctx, "requirement_validation_error", zap.Int("item", i), zap.Error(err))
			res.ParseError = true
			res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		res.Requirements = append(res.Requirements, req)
	}

	return res
}

// StripFence removes a Markdown code fence around s. When s starts with
// ``` the first line is dropped, and the last line too when it is ```.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "```" {
		return strings.Join(lines[1:len(lines)-1], "\n")
	}
	return strings.Join(lines[1:], "\n")
}

// RequirementID is R-{CODE}-{first 6 hex of sha256(description|grounding)}.
func RequirementID(rt types.RuleType, description, grounding string) string {
	sum := sha256.Sum256([]byte(description + "|" + grounding))
	return fmt.Sprintf("R-%s-%s", rt.Code(), fmt.Sprintf("%x", sum)[:6])
}

func buildRequirement(obj map[string]any, rt types.RuleType, batch types.Batch, info RunInfo) (types.Requirement, error) {
	desc, err := optionalString(obj, "rule_description")
	if err != nil {
		return types.Requirement{}, err
	}
	if strings.TrimSpace(desc) == "" {
		return types.Requirement{}, fmt.Errorf("empty rule_description")
	}
	grounding, err := optionalString(obj, "grounded_in")
	if err != nil {
		return types.Requirement{}, err
	}

	confidence := DefaultConfidence
	if v, ok := obj["confidence"]; ok && v != nil {
		f, isNum := v.(float64)
		if !isNum {
			return types.Requirement{}, fmt.Errorf("confidence: want number, got %T", v)
		}
		confidence = f
	}

	raw := map[string]any{}
	if v, ok := obj["attributes"]; ok && v != nil {
		m, isObj := v.(map[string]any)
		if !isObj {
			return types.Requirement{}, fmt.Errorf("attributes: want object, got %T", v)
		}
		raw = m
	}

	src, ok := batch.Lookup(stringField(obj, "source_chunk_id"))
	if !ok && len(batch.Fragments) > 0 {
		src = batch.First()
	}

	return types.Requirement{
		ID:          RequirementID(rt, desc, grounding),
		RuleType:    rt,
		Description: desc,
		GroundedIn:  grounding,
		Confidence:  types.ClampConfidence(confidence),
		Attributes:  types.DecodeAttributes(rt, raw),
		Metadata: types.RequirementMetadata{
			SourceChunkID:  src.ID,
			SourceLocation: src.Location,
			SchemaVersion:  info.SchemaVersion,
			PromptVersion:  info.PromptVersion,
			ExtractionPass: info.Pass,
		},
	}, nil
}

// stringField returns obj[key] when it is a string, or "".
func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// optionalString returns obj[key] as a string, "" when absent or null, and
// an error when it has another type.
func optionalString(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", fmt.Errorf("%s: want string, got %T", key, v)
	}
	return s, nil
}
