// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists extraction runs in SQLite: run metadata,
// accepted requirements with a full-text index, skipped fragments, eval
// reports and gate decisions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/compliance-engine/pkg/types"
)

const dbFile = "compliance.db"

// Store manages the compliance SQLite database.
type Store struct {
	db         *sql.DB
	dir        string
	maxResults int
}

// Run is everything persisted for one pipeline run.
type Run struct {
	Metadata     types.ExtractionMetadata
	Requirements []types.Requirement
	Report       *types.EvalReport
	Decision     *types.GateDecision
	CreatedAt    time.Time
}

// NewStore opens or creates dir/compliance.db and its schema.
func NewStore(cfg types.StoreConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	s := &Store{db: db, dir: cfg.Dir, maxResults: maxResults}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pass INTEGER NOT NULL,
			prompt_version TEXT,
			model TEXT,
			total_fragments INTEGER,
			total_batches INTEGER,
			failed_batches INTEGER,
			total_requirements INTEGER,
			avg_confidence REAL,
			input_tokens INTEGER,
			output_tokens INTEGER,
			metadata TEXT,
			created_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS requirements (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			run_id TEXT NOT NULL REFERENCES runs(id),
			rule_type TEXT NOT NULL,
			description TEXT NOT NULL,
			grounded_in TEXT,
			confidence REAL,
			source_chunk_id TEXT,
			source_location TEXT,
			classification TEXT,
			validation_status TEXT,
			attributes TEXT,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requirements_run_id ON requirements(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requirements_rule_type ON requirements(rule_type)`,
		`CREATE TABLE IF NOT EXISTS skipped_fragments (
			run_id TEXT NOT NULL REFERENCES runs(id),
			fragment_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT,
			PRIMARY KEY (run_id, fragment_id, reason)
		)`,
		`CREATE TABLE IF NOT EXISTS eval_reports (
			run_id TEXT PRIMARY KEY REFERENCES runs(id),
			overall_score REAL,
			failure_type TEXT,
			report TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS gate_decisions (
			run_id TEXT PRIMARY KEY REFERENCES runs(id),
			decision TEXT NOT NULL,
			score REAL,
			rationale TEXT,
			payload TEXT
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='requirements_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE requirements_fts USING fts5(description, grounded_in, content=requirements, content_rowid=rowid)`,
			`CREATE TRIGGER requirements_ai AFTER INSERT ON requirements BEGIN
				INSERT INTO requirements_fts(rowid, description, grounded_in) VALUES (new.rowid, new.description, new.grounded_in);
			END`,
			`CREATE TRIGGER requirements_ad AFTER DELETE ON requirements BEGIN
				INSERT INTO requirements_fts(requirements_fts, rowid, description, grounded_in) VALUES('delete', old.rowid, old.description, old.grounded_in);
			END`,
			`CREATE TRIGGER requirements_au AFTER UPDATE ON requirements BEGIN
				INSERT INTO requirements_fts(requirements_fts, rowid, description, grounded_in) VALUES('delete', old.rowid, old.description, old.grounded_in);
				INSERT INTO requirements_fts(rowid, description, grounded_in) VALUES (new.rowid, new.description, new.grounded_in);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}
	return nil
}

// SaveRun writes a run in one transaction. Requirements are upserted by ID
// so re-extracting the same content updates rather than duplicates them.
// Saving the same run twice replaces its skip records.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	md := run.Metadata
	if md.RunID == "" {
		return fmt.Errorf("run has no id")
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	mdJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, pass, prompt_version, model, total_fragments, total_batches,
			failed_batches, total_requirements, avg_confidence, input_tokens, output_tokens,
			metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			pass=excluded.pass, prompt_version=excluded.prompt_version, model=excluded.model,
			total_fragments=excluded.total_fragments, total_batches=excluded.total_batches,
			failed_batches=excluded.failed_batches, total_requirements=excluded.total_requirements,
			avg_confidence=excluded.avg_confidence, input_tokens=excluded.input_tokens,
			output_tokens=excluded.output_tokens, metadata=excluded.metadata`,
		md.RunID, md.ExtractionPass, md.PromptVersion, md.Model, md.TotalFragments,
		md.TotalBatches, md.FailedBatches, md.TotalRequirements, md.AvgConfidence,
		md.InputTokens, md.OutputTokens, string(mdJSON), created.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	if err := saveRequirements(ctx, tx, md.RunID, run.Requirements); err != nil {
		return err
	}
	if err := saveSkipped(ctx, tx, md.RunID, md.Skipped); err != nil {
		return err
	}

	if run.Report != nil {
		reportJSON, err := json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("marshaling eval report: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO eval_reports (run_id, overall_score, failure_type, report) VALUES (?, ?, ?, ?)
			 ON CONFLICT(run_id) DO UPDATE SET
				overall_score=excluded.overall_score, failure_type=excluded.failure_type, report=excluded.report`,
			md.RunID, run.Report.OverallQualityScore, string(run.Report.FailureType), string(reportJSON),
		)
		if err != nil {
			return fmt.Errorf("upserting eval report: %w", err)
		}
	}

	if run.Decision != nil {
		decisionJSON, err := json.Marshal(run.Decision)
		if err != nil {
			return fmt.Errorf("marshaling gate decision: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO gate_decisions (run_id, decision, score, rationale, payload) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(run_id) DO UPDATE SET
				decision=excluded.decision, score=excluded.score,
				rationale=excluded.rationale, payload=excluded.payload`,
			md.RunID, string(run.Decision.Decision), run.Decision.Score, run.Decision.Rationale, string(decisionJSON),
		)
		if err != nil {
			return fmt.Errorf("upserting gate decision: %w", err)
		}
	}

	return tx.Commit()
}

func saveRequirements(ctx context.Context, tx *sql.Tx, runID string, reqs []types.Requirement) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO requirements (id, run_id, rule_type, description, grounded_in, confidence,
			source_chunk_id, source_location, classification, validation_status, attributes, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			run_id=excluded.run_id, rule_type=excluded.rule_type, description=excluded.description,
			grounded_in=excluded.grounded_in, confidence=excluded.confidence,
			source_chunk_id=excluded.source_chunk_id, source_location=excluded.source_location,
			classification=excluded.classification, validation_status=excluded.validation_status,
			attributes=excluded.attributes, payload=excluded.payload`)
	if err != nil {
		return fmt.Errorf("preparing requirement upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range reqs {
		attrsJSON, err := json.Marshal(types.OutputAttributes(r.Attributes))
		if err != nil {
			return fmt.Errorf("marshaling attributes of %s: %w", r.ID, err)
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling requirement %s: %w", r.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			r.ID, runID, string(r.RuleType), r.Description, r.GroundedIn, types.Round(r.Confidence, 2),
			r.Metadata.SourceChunkID, r.Metadata.SourceLocation, string(r.Classification()),
			string(r.Validation.Status), string(attrsJSON), string(payload),
		)
		if err != nil {
			return fmt.Errorf("upserting requirement %s: %w", r.ID, err)
		}
	}
	return nil
}

func saveSkipped(ctx context.Context, tx *sql.Tx, runID string, skipped []types.SkippedFragment) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM skipped_fragments WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clearing skipped fragments: %w", err)
	}
	for _, sk := range skipped {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO skipped_fragments (run_id, fragment_id, reason, detail) VALUES (?, ?, ?, ?)`,
			runID, sk.FragmentID, string(sk.Reason), sk.Detail,
		)
		if err != nil {
			return fmt.Errorf("inserting skipped fragment %s: %w", sk.FragmentID, err)
		}
	}
	return nil
}
