// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("run not found")

// QueryOptions holds parameters for requirement queries.
type QueryOptions struct {
	// Query is an FTS5 search over description and grounding text.
	Query string

	// RuleType filters by rule type.
	RuleType types.RuleType

	// RunID filters by run.
	RunID string

	// MinConfidence drops requirements below this confidence.
	MinConfidence float64

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// QueryResult is a stored requirement.
type QueryResult struct {
	ID               string                        `json:"requirement_id" yaml:"requirement_id"`
	RunID            string                        `json:"run_id" yaml:"run_id"`
	RuleType         types.RuleType                `json:"rule_type" yaml:"rule_type"`
	Description      string                        `json:"rule_description" yaml:"rule_description"`
	GroundedIn       string                        `json:"grounded_in,omitempty" yaml:"grounded_in,omitempty"`
	Confidence       float64                       `json:"confidence" yaml:"confidence"`
	SourceChunkID    string                        `json:"source_chunk_id" yaml:"source_chunk_id"`
	SourceLocation   string                        `json:"source_location,omitempty" yaml:"source_location,omitempty"`
	Classification   types.GroundingClassification `json:"classification,omitempty" yaml:"classification,omitempty"`
	ValidationStatus types.ValidationStatus        `json:"validation_status,omitempty" yaml:"validation_status,omitempty"`
	Attributes       map[string]any                `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Query searches stored requirements. Full-text queries are ranked by
// relevance; structured-only queries are ordered by source fragment.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Query != ""
	)
	const columns = `r.id, r.run_id, r.rule_type, r.description, r.grounded_in, r.confidence,
		r.source_chunk_id, r.source_location, r.classification, r.validation_status, r.attributes`

	if useFTS {
		qb.WriteString(`SELECT ` + columns + `
			FROM requirements_fts
			JOIN requirements r ON r.rowid = requirements_fts.rowid
			WHERE requirements_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(`SELECT ` + columns + ` FROM requirements r WHERE 1=1`)
	}

	if opts.RuleType != "" {
		qb.WriteString(` AND r.rule_type = ?`)
		args = append(args, string(opts.RuleType))
	}
	if opts.RunID != "" {
		qb.WriteString(` AND r.run_id = ?`)
		args = append(args, opts.RunID)
	}
	if opts.MinConfidence > 0 {
		qb.WriteString(` AND r.confidence >= ?`)
		args = append(args, opts.MinConfidence)
	}

	if useFTS {
		qb.WriteString(` ORDER BY requirements_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY r.source_chunk_id, r.id`)
	}
	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying requirements: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr                                   QueryResult
			ruleType, classification, validation string
			grounded, location, attrsJSON        sql.NullString
		)
		if err := rows.Scan(
			&qr.ID, &qr.RunID, &ruleType, &qr.Description, &grounded, &qr.Confidence,
			&qr.SourceChunkID, &location, &classification, &validation, &attrsJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		qr.RuleType = types.RuleType(ruleType)
		qr.GroundedIn = grounded.String
		qr.SourceLocation = location.String
		qr.Classification = types.GroundingClassification(classification)
		qr.ValidationStatus = types.ValidationStatus(validation)
		if attrsJSON.Valid {
			if err := json.Unmarshal([]byte(attrsJSON.String), &qr.Attributes); err != nil {
				return nil, fmt.Errorf("decoding attributes of %s: %w", qr.ID, err)
			}
		}
		results = append(results, qr)
	}
	return results, rows.Err()
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID                string         `json:"run_id" yaml:"run_id"`
	Pass              int            `json:"extraction_iteration" yaml:"extraction_iteration"`
	PromptVersion     string         `json:"prompt_version" yaml:"prompt_version"`
	Model             string         `json:"model" yaml:"model"`
	TotalRequirements int            `json:"total_requirements" yaml:"total_requirements"`
	AvgConfidence     float64        `json:"avg_confidence" yaml:"avg_confidence"`
	Decision          types.Decision `json:"decision,omitempty" yaml:"decision,omitempty"`
	CreatedAt         time.Time      `json:"created_at" yaml:"created_at"`
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.pass, r.prompt_version, r.model, r.total_requirements,
			r.avg_confidence, g.decision, r.created_at
		 FROM runs r
		 LEFT JOIN gate_decisions g ON g.run_id = r.id
		 ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			rs                 RunSummary
			prompt, model, dec sql.NullString
			created            string
		)
		if err := rows.Scan(&rs.ID, &rs.Pass, &prompt, &model, &rs.TotalRequirements,
			&rs.AvgConfidence, &dec, &created); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rs.PromptVersion = prompt.String
		rs.Model = model.String
		rs.Decision = types.Decision(dec.String)
		rs.CreatedAt, _ = time.Parse(time.RFC3339, created)
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

// Report returns the stored eval report of a run.
func (s *Store) Report(ctx context.Context, runID string) (*types.EvalReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM eval_reports WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("eval report for %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up eval report: %w", err)
	}
	var report types.EvalReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("decoding eval report: %w", err)
	}
	return &report, nil
}

// Skipped returns the skip records of a run ordered by fragment.
func (s *Store) Skipped(ctx context.Context, runID string) ([]types.SkippedFragment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fragment_id, reason, detail FROM skipped_fragments WHERE run_id = ? ORDER BY fragment_id, reason`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("querying skipped fragments: %w", err)
	}
	defer rows.Close()

	var out []types.SkippedFragment
	for rows.Next() {
		var (
			sk     types.SkippedFragment
			reason string
			detail sql.NullString
		)
		if err := rows.Scan(&sk.FragmentID, &reason, &detail); err != nil {
			return nil, fmt.Errorf("scanning skipped fragment: %w", err)
		}
		sk.Reason = types.SkipReason(reason)
		sk.Detail = detail.String
		out = append(out, sk)
	}
	return out, rows.Err()
}
