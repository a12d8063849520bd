package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentUpsertKeepsIDStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{
		ID: "doc-1", Path: "/tmp/bid.docx", Filename: "bid.docx",
		Kind: "bid", Format: "docx", ContentHash: "aaa",
	}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	// Same path, new hash, different candidate ID: the row keeps doc-1.
	doc2 := doc
	doc2.ID = "doc-1"
	doc2.ContentHash = "bbb"
	if err := s.UpsertDocument(ctx, doc2); err != nil {
		t.Fatalf("UpsertDocument update: %v", err)
	}

	got, err := s.GetDocumentByPath(ctx, "/tmp/bid.docx")
	if err != nil {
		t.Fatalf("GetDocumentByPath: %v", err)
	}
	if got.ID != "doc-1" || got.ContentHash != "bbb" {
		t.Errorf("document = %+v", got)
	}

	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{ID: "doc-1", Path: "/tmp/a.docx", Filename: "a.docx", Kind: "bid", Format: "docx", ContentHash: "h"}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	run := Run{RunID: "run-1", DocumentID: "doc-1", Status: "running", Stage: "pending", SourceHash: "h"}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	if err := s.UpdateRunStage(ctx, "run-1", "running", "toc_extracting", map[string]any{"headings": 3}); err != nil {
		t.Fatalf("UpdateRunStage: %v", err)
	}
	if err := s.UpdateRunStage(ctx, "run-1", "running", "splitting", map[string]any{"sections": 3}); err != nil {
		t.Fatalf("UpdateRunStage: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stage != "splitting" || got.Status != "running" {
		t.Errorf("run = %+v", got)
	}
	// Stage results accumulate rather than overwrite.
	if !strings.Contains(got.StageResults, "toc_extracting") || !strings.Contains(got.StageResults, "splitting") {
		t.Errorf("stage results = %s", got.StageResults)
	}

	warnings := []map[string]string{{"op": "split", "detail": "section 2 skipped"}}
	if err := s.FinishRun(ctx, "run-1", "completed", warnings, ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, _ = s.GetRun(ctx, "run-1")
	if got.Status != "completed" || got.CompletedAt == "" {
		t.Errorf("finished run = %+v", got)
	}
	if !strings.Contains(got.Warnings, "section 2 skipped") {
		t.Errorf("warnings = %s", got.Warnings)
	}
}

func TestLatestRunIsAppendOnlyHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{ID: "doc-1", Path: "/tmp/a.docx", Filename: "a.docx", Kind: "bid", Format: "docx", ContentHash: "h"}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	for _, id := range []string{"run-1", "run-2"} {
		if err := s.InsertRun(ctx, Run{RunID: id, DocumentID: "doc-1", Status: "running", Stage: "pending", SourceHash: "h"}); err != nil {
			t.Fatalf("InsertRun %s: %v", id, err)
		}
	}

	latest, err := s.LatestRun(ctx, "doc-1")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if latest.RunID != "run-2" {
		t.Errorf("latest = %s, want run-2", latest.RunID)
	}

	runs, err := s.ListRuns(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("history length = %d, want 2", len(runs))
	}
}

func TestFindingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{ID: "doc-1", Path: "/tmp/a.docx", Filename: "a.docx", Kind: "bid", Format: "docx", ContentHash: "h"}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := s.InsertRun(ctx, Run{RunID: "run-1", DocumentID: "doc-1", Status: "running", Stage: "verifying", SourceHash: "h"}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	rows := []FindingRow{{
		RunID: "run-1", AgentKind: "authorization_letter", SubjectRef: "4_授权书.docx",
		Verdict: "fail", Details: `[{"field":"project_number"}]`, Summary: "编号不一致", Confidence: 0.9,
	}}
	if err := s.InsertFindings(ctx, "run-1", rows); err != nil {
		t.Fatalf("InsertFindings: %v", err)
	}

	got, err := s.GetFindings(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetFindings: %v", err)
	}
	if len(got) != 1 || got[0].Verdict != "fail" || got[0].Summary != "编号不一致" {
		t.Errorf("findings = %+v", got)
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{ID: "tender-1", Path: "/tmp/t.docx", Filename: "t.docx", Kind: "tender", Format: "docx", ContentHash: "h"}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	d := Descriptor{DocumentID: "tender-1", ProjectNumber: "ZB-2025-001", ProjectName: "智慧园区项目"}
	if err := s.PutDescriptor(ctx, d); err != nil {
		t.Fatalf("PutDescriptor: %v", err)
	}

	// Replace in place.
	d.ProjectName = "智慧园区综合管理平台项目"
	if err := s.PutDescriptor(ctx, d); err != nil {
		t.Fatalf("PutDescriptor update: %v", err)
	}

	got, err := s.GetDescriptor(ctx, "tender-1")
	if err != nil {
		t.Fatalf("GetDescriptor: %v", err)
	}
	if got.ProjectName != "智慧园区综合管理平台项目" {
		t.Errorf("descriptor = %+v", got)
	}

	if _, err := s.GetDescriptor(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
