package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tenderlens/tenderlens"
	"github.com/tenderlens/tenderlens/office"
)

type handler struct {
	engine    tenderlens.Engine
	bridgeURL string
}

func newHandler(e tenderlens.Engine, bridgeURL string) *handler {
	return &handler{engine: e, bridgeURL: bridgeURL}
}

// POST /documents
// Registers a source file for processing.
func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
		Kind string `json:"kind,omitempty"`
		ID   string `json:"id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	// The path must resolve to an existing regular file.
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	var opts []tenderlens.RegisterOption
	if req.Kind != "" {
		opts = append(opts, tenderlens.WithKind(req.Kind))
	}
	if req.ID != "" {
		opts = append(opts, tenderlens.WithDocumentID(req.ID))
	}

	id, err := h.engine.RegisterDocument(r.Context(), absPath, opts...)
	if err != nil {
		if errors.Is(err, tenderlens.ErrUnsupportedFormat) {
			writeError(w, http.StatusUnprocessableEntity, "unsupported document format")
			return
		}
		writeError(w, http.StatusInternalServerError, "registration failed")
		slog.Error("register error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"document_id": id,
		"path":        absPath,
	})
}

// POST /documents/{id}/descriptor
func (h *handler) handleSetDescriptor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var d tenderlens.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if d.ProjectNumber == "" || d.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "project_number and project_name are required")
		return
	}

	if err := h.engine.SetDescriptor(r.Context(), id, d); err != nil {
		if errors.Is(err, tenderlens.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storing descriptor failed")
		slog.Error("descriptor error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

// POST /documents/{id}/process
// Starts a processing run; the run continues in the background.
func (h *handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		TenderID string `json:"tender_id,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var opts []tenderlens.ProcessOption
	if req.TenderID != "" {
		opts = append(opts, tenderlens.WithTenderDocument(req.TenderID))
	}

	runID, err := h.engine.StartProcessing(r.Context(), id, opts...)
	if err != nil {
		switch {
		case errors.Is(err, tenderlens.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, tenderlens.ErrRunInProgress):
			writeError(w, http.StatusConflict, "a run is already in progress for this document")
		case errors.Is(err, tenderlens.ErrSourceUnreadable):
			writeError(w, http.StatusUnprocessableEntity, "source file is unreadable")
		default:
			writeError(w, http.StatusInternalServerError, "starting run failed")
			slog.Error("process error", "document_id", id, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": id,
		"run_id":      runID,
	})
}

// POST /runs/{id}/cancel
// Asks an in-flight run to stop at its next stage boundary.
func (h *handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.engine.CancelRun(r.Context(), id); err != nil {
		if errors.Is(err, tenderlens.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "cancel failed")
		slog.Error("cancel error", "run_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

// GET /documents/{id}/status
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	st, err := h.engine.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, tenderlens.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		slog.Error("status error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// GET /documents/{id}/artifacts
func (h *handler) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	art, err := h.engine.GetArtifacts(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, tenderlens.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, tenderlens.ErrRunNotFound):
			writeError(w, http.StatusNotFound, "document has no runs yet")
		default:
			writeError(w, http.StatusInternalServerError, "artifact lookup failed")
			slog.Error("artifacts error", "document_id", id, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, art)
}

// DELETE /documents/{id}/artifacts
func (h *handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.engine.Cleanup(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, tenderlens.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, tenderlens.ErrConflict):
			writeError(w, http.StatusConflict, "cannot clean up while a run is in progress")
		default:
			writeError(w, http.StatusInternalServerError, "cleanup failed")
			slog.Error("cleanup error", "document_id", id, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

// GET /health
// Reports the automation bridge's reachability alongside the server's own.
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if h.bridgeURL != "" {
		if office.ProbeAutomation(h.bridgeURL) {
			resp["automation_bridge"] = "ok"
		} else {
			resp["automation_bridge"] = "unreachable"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
