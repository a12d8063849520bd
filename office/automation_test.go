package office

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestAutomationOutlineRetriesBusyBridge(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/outline" {
			t.Errorf("path = %q, want /outline", r.URL.Path)
		}
		n := calls.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusLocked)
			return
		}
		var req struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Path != "/tmp/bid.doc" {
			t.Errorf("path = %q, want /tmp/bid.doc", req.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"entries": []OutlineEntry{
				{Level: 1, Title: "一、投标函", Order: 0, Anchor: Anchor{Paragraph: 2, Page: 1}},
				{Level: 1, Title: "二、授权书", Order: 1, Anchor: Anchor{Paragraph: 9, Page: 3}},
			},
		})
	}))
	defer srv.Close()

	b := NewAutomationBackend(srv.URL, 5)
	entries, err := b.Outline(context.Background(), "/tmp/bid.doc")
	if err != nil {
		t.Fatalf("Outline: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].Anchor.Page != 3 {
		t.Errorf("page anchor = %d, want 3", entries[1].Anchor.Page)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("bridge calls = %d, want 3", got)
	}
}

func TestAutomationGivesUpBusyAfterBoundedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewAutomationBackend(srv.URL, 2)
	_, err := b.Outline(context.Background(), "/tmp/bid.doc")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("bridge calls = %d, want 2", got)
	}
}

func TestAutomationNonRetryableErrorFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such document", http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewAutomationBackend(srv.URL, 5)
	_, err := b.Outline(context.Background(), "/tmp/missing.doc")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want a non-busy bridge error", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("bridge calls = %d, want 1", got)
	}
}

func TestAutomationOutlineEmptyEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"entries": []OutlineEntry{}})
	}))
	defer srv.Close()

	b := NewAutomationBackend(srv.URL, 1)
	_, err := b.Outline(context.Background(), "/tmp/flat.doc")
	if !errors.Is(err, ErrNoHeadings) {
		t.Fatalf("err = %v, want ErrNoHeadings", err)
	}
}

func TestAutomationSplitDecodesSectionsAndWarnings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/split" {
			t.Errorf("path = %q, want /split", r.URL.Path)
		}
		var req struct {
			Path    string         `json:"path"`
			Dir     string         `json:"dir"`
			Level   int            `json:"level"`
			Outline []OutlineEntry `json:"outline"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Level != 1 || len(req.Outline) != 1 {
			t.Errorf("level = %d outline = %d, want 1 and 1", req.Level, len(req.Outline))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"sections": []SectionFile{
				{Index: 0, Path: req.Dir + "/1_一、投标函.doc", Title: "一、投标函", AtEnd: true},
			},
			"warnings": []Warning{{Op: "split", Detail: "field codes flattened"}},
		})
	}))
	defer srv.Close()

	b := NewAutomationBackend(srv.URL, 1)
	outline := []OutlineEntry{{Level: 1, Title: "一、投标函", Order: 0}}
	sections, warns, err := b.Split(context.Background(), "/tmp/bid.doc", outline, 1, "/tmp/out")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(sections) != 1 || sections[0].Title != "一、投标函" {
		t.Fatalf("sections = %+v", sections)
	}
	if len(warns) != 1 {
		t.Errorf("warnings = %d, want 1", len(warns))
	}
}

func TestAutomationSplitEmptyOutline(t *testing.T) {
	b := NewAutomationBackend("http://127.0.0.1:1", 1)
	_, _, err := b.Split(context.Background(), "/tmp/bid.doc", nil, 1, "/tmp/out")
	if !errors.Is(err, ErrEmptyOutline) {
		t.Fatalf("err = %v, want ErrEmptyOutline", err)
	}
}

func TestProbeAutomation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !ProbeAutomation(srv.URL) {
		t.Error("expected a healthy bridge to report reachable")
	}
	if ProbeAutomation("") {
		t.Error("expected an unconfigured bridge to report unreachable")
	}
}
