// Package tenderlens processes procurement bid documents: it extracts
// the table of contents, splits the document into per-heading section
// files, extracts and names embedded images, and runs verification
// agents that check the bid against the tender's reference values.
package tenderlens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tenderlens/tenderlens/agent"
	"github.com/tenderlens/tenderlens/artifact"
	"github.com/tenderlens/tenderlens/llm"
	"github.com/tenderlens/tenderlens/multimodal"
	"github.com/tenderlens/tenderlens/office"
	"github.com/tenderlens/tenderlens/store"
)

// Processing stages, in pipeline order. A run that fails stays at the
// stage it failed in with status failed.
const (
	StagePending         = "pending"
	StageTOCExtracting   = "toc_extracting"
	StageSplitting       = "splitting"
	StageImageExtracting = "image_extracting"
	StageVerifying       = "verifying"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Document kinds.
const (
	KindTender = "tender"
	KindBid    = "bid"
)

// Engine is the main entry point for bid document processing.
type Engine interface {
	// RegisterDocument records a source file and returns its document ID.
	// Registering the same path again updates the record in place.
	RegisterDocument(ctx context.Context, path string, opts ...RegisterOption) (string, error)

	// SetDescriptor stores the tender's reference values for a document.
	SetDescriptor(ctx context.Context, documentID string, d Descriptor) error

	// StartProcessing launches the processing pipeline for a document and
	// returns the run ID. The run executes in the background; poll
	// GetStatus or use WaitForRun. A second start while a run is active
	// for the same document returns ErrRunInProgress.
	StartProcessing(ctx context.Context, documentID string, opts ...ProcessOption) (string, error)

	// WaitForRun blocks until the given run reaches a terminal status or
	// the context is done.
	WaitForRun(ctx context.Context, runID string) error

	// CancelRun requests that an in-flight run stop at its next stage
	// boundary. Cancelling a finished run is a no-op; an unknown run ID
	// returns ErrRunNotFound.
	CancelRun(ctx context.Context, runID string) error

	// GetStatus reports the latest run's stage and status for a document.
	GetStatus(ctx context.Context, documentID string) (*Status, error)

	// GetArtifacts lists the artifact files the latest run produced.
	GetArtifacts(ctx context.Context, documentID string) (*Artifacts, error)

	// Cleanup deletes a document's artifact workspace. Run history in the
	// database is kept.
	Cleanup(ctx context.Context, documentID string) error

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine after waiting for active runs.
	Close() error
}

// Descriptor carries the tender-side reference values bids are verified
// against.
type Descriptor struct {
	ProjectNumber string `json:"project_number"`
	ProjectName   string `json:"project_name"`
	Purchaser     string `json:"purchaser,omitempty"`
}

// Status reports where a document's latest run stands.
type Status struct {
	DocumentID string `json:"document_id"`
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	Stage      string `json:"stage"`
	// StageResults maps each completed stage to its result summary.
	StageResults  map[string]json.RawMessage `json:"stage_results,omitempty"`
	Warnings      []office.Warning           `json:"warnings,omitempty"`
	Error         string                     `json:"error,omitempty"`
	StartedAt     string                     `json:"started_at"`
	CompletedAt   string                     `json:"completed_at,omitempty"`
	SourceChanged bool                       `json:"source_changed"`
}

// Artifacts lists what the latest run wrote for a document.
type Artifacts struct {
	DocumentID  string                   `json:"document_id"`
	RunID       string                   `json:"run_id"`
	Root        string                   `json:"root"`
	OutlinePath string                   `json:"outline_path,omitempty"`
	Files       []string                 `json:"files"`
	Sections    []string                 `json:"sections,omitempty"`
	Images      []artifact.ManifestEntry `json:"images,omitempty"`
	Findings    []agent.Finding          `json:"findings,omitempty"`
}

// RegisterOption configures document registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	kind string
	id   string
}

// WithKind marks the document as tender or bid. The default is bid.
func WithKind(kind string) RegisterOption {
	return func(o *registerOptions) { o.kind = kind }
}

// WithDocumentID uses a caller-chosen document ID instead of a generated
// one.
func WithDocumentID(id string) RegisterOption {
	return func(o *registerOptions) { o.id = id }
}

// ProcessOption configures one processing run.
type ProcessOption func(*processOptions)

type processOptions struct {
	tenderID string
}

// WithTenderDocument names the tender document whose descriptor the
// verification stage compares against. Without it the descriptor stored
// for the processed document itself is used.
func WithTenderDocument(id string) ProcessOption {
	return func(o *processOptions) { o.tenderID = id }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	store    *store.Store
	vision   llm.VisionProvider
	analyzer *multimodal.Analyzer
	agents   *agent.Registry
	slots    *semaphore.Weighted

	mu     sync.Mutex
	active map[string]*activeRun // keyed by document ID
	closed bool
	wg     sync.WaitGroup
}

type activeRun struct {
	runID  string
	done   chan struct{}
	cancel context.CancelFunc
}

// New creates a new processing engine with the given configuration.
func New(cfg Config) (Engine, error) {
	dbPath := cfg.resolveDBPath()
	workDir := cfg.resolveWorkDir()

	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultConfig().MaxConcurrentRuns
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultConfig().StageTimeout
	}
	cfg.WorkDir = workDir

	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var vision llm.VisionProvider
	var analyzer *multimodal.Analyzer
	if cfg.Vision.Provider != "" {
		vision, err = llm.NewProvider(llm.Config{
			Provider: cfg.Vision.Provider,
			Model:    cfg.Vision.Model,
			BaseURL:  cfg.Vision.BaseURL,
			APIKey:   cfg.Vision.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating vision provider: %w", err)
		}
		analyzer = multimodal.New(vision)
	}

	agents := agent.NewRegistry()
	agents.Register(agent.NewAuthorizationLetterAgent(analyzer, cfg.NameDistance))

	return &engine{
		cfg:      cfg,
		store:    s,
		vision:   vision,
		analyzer: analyzer,
		agents:   agents,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		active:   make(map[string]*activeRun),
	}, nil
}

// RegisterDocument records a source file for later processing.
func (e *engine) RegisterDocument(ctx context.Context, path string, opts ...RegisterOption) (string, error) {
	options := &registerOptions{kind: KindBid}
	for _, o := range opts {
		o(options)
	}
	if options.kind != KindTender && options.kind != KindBid {
		return "", fmt.Errorf("unknown document kind %q", options.kind)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	format, err := detectFormat(absPath)
	if err != nil {
		return "", err
	}

	// Re-registering a known path keeps its ID stable.
	id := options.id
	if existing, err := e.store.GetDocumentByPath(ctx, absPath); err == nil {
		id = existing.ID
	} else if id == "" {
		id = uuid.NewString()
	}

	doc := store.Document{
		ID:          id,
		Path:        absPath,
		Filename:    filepath.Base(absPath),
		Kind:        options.kind,
		Format:      format,
		ContentHash: hash,
	}
	if err := e.store.UpsertDocument(ctx, doc); err != nil {
		return "", err
	}
	slog.Info("registered document", "id", id, "path", absPath, "kind", options.kind, "format", format)
	return id, nil
}

// SetDescriptor stores the tender reference values for a document.
func (e *engine) SetDescriptor(ctx context.Context, documentID string, d Descriptor) error {
	if _, err := e.store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	return e.store.PutDescriptor(ctx, store.Descriptor{
		DocumentID:    documentID,
		ProjectNumber: d.ProjectNumber,
		ProjectName:   d.ProjectName,
		Purchaser:     d.Purchaser,
	})
}

// StartProcessing launches a pipeline run for a document.
func (e *engine) StartProcessing(ctx context.Context, documentID string, opts ...ProcessOption) (string, error) {
	options := &processOptions{}
	for _, o := range opts {
		o(options)
	}

	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrDocumentNotFound
		}
		return "", err
	}

	hash, err := fileHash(doc.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrStoreClosed
	}
	if _, busy := e.active[documentID]; busy {
		e.mu.Unlock()
		return "", ErrRunInProgress
	}
	runID := uuid.NewString()
	rctx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{runID: runID, done: make(chan struct{}), cancel: cancel}
	e.active[documentID] = ar
	e.wg.Add(1)
	e.mu.Unlock()

	if err := e.store.InsertRun(ctx, store.Run{
		RunID:      runID,
		DocumentID: documentID,
		Status:     StatusRunning,
		Stage:      StagePending,
		SourceHash: hash,
	}); err != nil {
		e.releaseRun(documentID, ar)
		e.wg.Done()
		return "", err
	}

	go func() {
		defer e.wg.Done()
		defer e.releaseRun(documentID, ar)
		defer cancel()
		e.executeRun(rctx, runID, doc, *options)
	}()
	return runID, nil
}

// CancelRun stops an in-flight run at its next stage boundary. The run
// ends failed with a cancellation error and its slot is released. A run
// that already reached a terminal status is left as is.
func (e *engine) CancelRun(ctx context.Context, runID string) error {
	e.mu.Lock()
	for _, ar := range e.active {
		if ar.runID == runID {
			ar.cancel()
			e.mu.Unlock()
			return nil
		}
	}
	e.mu.Unlock()

	if _, err := e.store.GetRun(ctx, runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRunNotFound
		}
		return err
	}
	return nil
}

func (e *engine) releaseRun(documentID string, ar *activeRun) {
	e.mu.Lock()
	if cur, ok := e.active[documentID]; ok && cur == ar {
		delete(e.active, documentID)
	}
	e.mu.Unlock()
	close(ar.done)
}

// WaitForRun blocks until the run with the given ID finishes.
func (e *engine) WaitForRun(ctx context.Context, runID string) error {
	e.mu.Lock()
	var done chan struct{}
	for _, ar := range e.active {
		if ar.runID == runID {
			done = ar.done
			break
		}
	}
	e.mu.Unlock()
	if done == nil {
		// Not active: either finished or never existed.
		if _, err := e.store.GetRun(ctx, runID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRunNotFound
			}
			return err
		}
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStatus reports the latest run for a document.
func (e *engine) GetStatus(ctx context.Context, documentID string) (*Status, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	run, err := e.store.LatestRun(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Status{DocumentID: documentID, Status: "pending", Stage: StagePending}, nil
		}
		return nil, err
	}

	st := &Status{
		DocumentID:  documentID,
		RunID:       run.RunID,
		Status:      run.Status,
		Stage:       run.Stage,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.Warnings != "" {
		if err := json.Unmarshal([]byte(run.Warnings), &st.Warnings); err != nil {
			slog.Warn("decoding run warnings", "run_id", run.RunID, "error", err)
		}
	}
	if run.StageResults != "" {
		if err := json.Unmarshal([]byte(run.StageResults), &st.StageResults); err != nil {
			slog.Warn("decoding stage results", "run_id", run.RunID, "error", err)
		}
	}
	if hash, err := fileHash(doc.Path); err == nil {
		st.SourceChanged = hash != run.SourceHash
	}
	return st, nil
}

// GetArtifacts lists the artifact files the latest run produced.
func (e *engine) GetArtifacts(ctx context.Context, documentID string) (*Artifacts, error) {
	if _, err := e.store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	run, err := e.store.LatestRun(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	ws, err := artifact.OpenWorkspace(e.cfg.WorkDir, documentID)
	if err != nil {
		return nil, err
	}
	files, err := ws.List()
	if err != nil {
		return nil, err
	}

	art := &Artifacts{
		DocumentID: documentID,
		RunID:      run.RunID,
		Root:       ws.Root(),
		Files:      files,
	}
	for _, f := range files {
		if f == filepath.Base(ws.OutlinePath()) {
			art.OutlinePath = ws.OutlinePath()
		}
		if strings.HasPrefix(f, artifact.SectionsDir+string(filepath.Separator)) {
			art.Sections = append(art.Sections, filepath.Join(ws.Root(), f))
		}
	}
	if entries, err := ws.ReadManifest(); err == nil {
		art.Images = entries
	}
	rows, err := e.store.GetFindings(ctx, run.RunID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		f := agent.Finding{
			AgentKind:  row.AgentKind,
			SubjectRef: row.SubjectRef,
			Verdict:    row.Verdict,
			Summary:    row.Summary,
			Confidence: row.Confidence,
		}
		if row.Details != "" {
			if err := json.Unmarshal([]byte(row.Details), &f.Details); err != nil {
				slog.Warn("decoding finding details", "run_id", run.RunID, "error", err)
			}
		}
		art.Findings = append(art.Findings, f)
	}
	return art, nil
}

// Cleanup removes a document's artifact workspace.
func (e *engine) Cleanup(ctx context.Context, documentID string) error {
	if _, err := e.store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	e.mu.Lock()
	_, busy := e.active[documentID]
	e.mu.Unlock()
	if busy {
		// The run owns the workspace exclusively until it finishes.
		return ErrConflict
	}
	return os.RemoveAll(filepath.Join(e.cfg.WorkDir, documentID))
}

// Store returns the underlying store.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close waits for active runs and closes the store.
func (e *engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
	return e.store.Close()
}

// detectFormat classifies the source file. Legacy binary .doc files are
// recognised by their OLE container even when misnamed.
func detectFormat(path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "docx":
		if office.IsLegacyDoc(path) {
			return "doc", nil
		}
		return "docx", nil
	case "doc":
		return "doc", nil
	case "pdf":
		return "pdf", nil
	default:
		return "", fmt.Errorf("%w: .%s", ErrUnsupportedFormat, ext)
	}
}

// fileHash computes the SHA-256 of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
