// Package store persists documents, processing run history, and
// verification findings in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Document represents a row in the documents table.
type Document struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Kind        string `json:"kind"` // "tender" or "bid"
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Run represents a row in the processing_runs table.
type Run struct {
	RunID        string `json:"run_id"`
	DocumentID   string `json:"document_id"`
	Status       string `json:"status"`
	Stage        string `json:"stage"`
	StageResults string `json:"stage_results,omitempty"` // JSON
	Warnings     string `json:"warnings,omitempty"`      // JSON
	Error        string `json:"error,omitempty"`
	SourceHash   string `json:"source_hash"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// FindingRow represents a row in the findings table.
type FindingRow struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	AgentKind  string  `json:"agent_kind"`
	SubjectRef string  `json:"subject_ref"`
	Verdict    string  `json:"verdict"`
	Details    string  `json:"details,omitempty"` // JSON
	Summary    string  `json:"summary,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Descriptor represents a row in the tender_descriptors table.
type Descriptor struct {
	DocumentID    string `json:"document_id"`
	ProjectNumber string `json:"project_number"`
	ProjectName   string `json:"project_name"`
	Purchaser     string `json:"purchaser,omitempty"`
}

// Store wraps the SQLite database for all tenderlens persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record keyed by path.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, path, filename, kind, format, content_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			kind = excluded.kind,
			format = excluded.format,
			content_hash = excluded.content_hash,
			updated_at = CURRENT_TIMESTAMP
	`, doc.ID, doc.Path, doc.Filename, doc.Kind, doc.Format, doc.ContentHash)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, filename, kind, format, content_hash, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Path, &doc.Filename, &doc.Kind, &doc.Format,
		&doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

// GetDocumentByPath retrieves a document by its file path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	doc := &Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, filename, kind, format, content_hash, created_at, updated_at
		FROM documents WHERE path = ?
	`, path).Scan(&doc.ID, &doc.Path, &doc.Filename, &doc.Kind, &doc.Format,
		&doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document by path: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes a document; runs and findings cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Run operations ---

// InsertRun records the start of a processing run.
func (s *Store) InsertRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_runs (run_id, document_id, status, stage, source_hash)
		VALUES (?, ?, ?, ?, ?)
	`, run.RunID, run.DocumentID, run.Status, run.Stage, run.SourceHash)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRunStage advances a run to a new stage, merging the stage's
// result payload into the accumulated stage_results JSON object.
func (s *Store) UpdateRunStage(ctx context.Context, runID, status, stage string, result any) error {
	var patch string
	if result != nil {
		data, err := json.Marshal(map[string]any{stage: result})
		if err != nil {
			return fmt.Errorf("encoding stage result: %w", err)
		}
		patch = string(data)
	} else {
		patch = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_runs
		SET status = ?, stage = ?,
		    stage_results = json_patch(COALESCE(stage_results, '{}'), ?)
		WHERE run_id = ?
	`, status, stage, patch, runID)
	if err != nil {
		return fmt.Errorf("updating run stage: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal with its final status, warnings, and
// error text.
func (s *Store) FinishRun(ctx context.Context, runID, status string, warnings any, runErr string) error {
	var warnJSON []byte
	if warnings != nil {
		var err error
		warnJSON, err = json.Marshal(warnings)
		if err != nil {
			return fmt.Errorf("encoding warnings: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_runs
		SET status = ?, warnings = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE run_id = ?
	`, status, nullableString(string(warnJSON)), nullableString(runErr), runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{}
	var results, warnings, runErr, completed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, document_id, status, stage, stage_results, warnings, error, source_hash, started_at, completed_at
		FROM processing_runs WHERE run_id = ?
	`, runID).Scan(&run.RunID, &run.DocumentID, &run.Status, &run.Stage,
		&results, &warnings, &runErr, &run.SourceHash, &run.StartedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	run.StageResults = results.String
	run.Warnings = warnings.String
	run.Error = runErr.String
	run.CompletedAt = completed.String
	return run, nil
}

// LatestRun retrieves the most recently started run for a document.
func (s *Store) LatestRun(ctx context.Context, documentID string) (*Run, error) {
	run := &Run{}
	var results, warnings, runErr, completed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, document_id, status, stage, stage_results, warnings, error, source_hash, started_at, completed_at
		FROM processing_runs WHERE document_id = ?
		ORDER BY started_at DESC, run_id DESC LIMIT 1
	`, documentID).Scan(&run.RunID, &run.DocumentID, &run.Status, &run.Stage,
		&results, &warnings, &runErr, &run.SourceHash, &run.StartedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest run: %w", err)
	}
	run.StageResults = results.String
	run.Warnings = warnings.String
	run.Error = runErr.String
	run.CompletedAt = completed.String
	return run, nil
}

// ListRuns returns the full run history for a document, newest first.
func (s *Store) ListRuns(ctx context.Context, documentID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, document_id, status, stage, stage_results, warnings, error, source_hash, started_at, completed_at
		FROM processing_runs WHERE document_id = ?
		ORDER BY started_at DESC, run_id DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var results, warnings, runErr, completed sql.NullString
		if err := rows.Scan(&run.RunID, &run.DocumentID, &run.Status, &run.Stage,
			&results, &warnings, &runErr, &run.SourceHash, &run.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.StageResults = results.String
		run.Warnings = warnings.String
		run.Error = runErr.String
		run.CompletedAt = completed.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Finding operations ---

// InsertFindings stores a run's findings in one transaction.
func (s *Store) InsertFindings(ctx context.Context, runID string, findings []FindingRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range findings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO findings (run_id, agent_kind, subject_ref, verdict, details, summary, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, f.AgentKind, f.SubjectRef, f.Verdict, nullableString(f.Details), nullableString(f.Summary), f.Confidence); err != nil {
			return fmt.Errorf("inserting finding: %w", err)
		}
	}
	return tx.Commit()
}

// GetFindings returns all findings of a run.
func (s *Store) GetFindings(ctx context.Context, runID string) ([]FindingRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, agent_kind, subject_ref, verdict, details, summary, confidence
		FROM findings WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("getting findings: %w", err)
	}
	defer rows.Close()

	var findings []FindingRow
	for rows.Next() {
		var f FindingRow
		var details, summary sql.NullString
		if err := rows.Scan(&f.ID, &f.RunID, &f.AgentKind, &f.SubjectRef, &f.Verdict, &details, &summary, &f.Confidence); err != nil {
			return nil, fmt.Errorf("scanning finding: %w", err)
		}
		f.Details = details.String
		f.Summary = summary.String
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// --- Descriptor operations ---

// PutDescriptor stores or replaces the tender descriptor for a document.
func (s *Store) PutDescriptor(ctx context.Context, d Descriptor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tender_descriptors (document_id, project_number, project_name, purchaser)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			project_number = excluded.project_number,
			project_name = excluded.project_name,
			purchaser = excluded.purchaser,
			updated_at = CURRENT_TIMESTAMP
	`, d.DocumentID, d.ProjectNumber, d.ProjectName, nullableString(d.Purchaser))
	if err != nil {
		return fmt.Errorf("putting descriptor: %w", err)
	}
	return nil
}

// GetDescriptor retrieves the tender descriptor for a document.
func (s *Store) GetDescriptor(ctx context.Context, documentID string) (*Descriptor, error) {
	d := &Descriptor{}
	var purchaser sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, project_number, project_name, purchaser
		FROM tender_descriptors WHERE document_id = ?
	`, documentID).Scan(&d.DocumentID, &d.ProjectNumber, &d.ProjectName, &purchaser)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting descriptor: %w", err)
	}
	d.Purchaser = purchaser.String
	return d, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
