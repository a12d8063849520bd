package artifact

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tenderlens/tenderlens/agent"
	"github.com/tenderlens/tenderlens/office"
)

// ManifestEntry describes one deduplicated image written to the workspace.
type ManifestEntry struct {
	File        string                 `json:"file"`
	Hash        string                 `json:"hash"`
	MIMEType    string                 `json:"mime_type"`
	Width       int                    `json:"width,omitempty"`
	Height      int                    `json:"height,omitempty"`
	Category    string                 `json:"category"`
	Description string                 `json:"description,omitempty"`
	Locations   []office.ImageLocation `json:"locations"`
}

// WriteManifest stores the image manifest next to the image files.
func (w *Workspace) WriteManifest(entries []ManifestEntry) error {
	return writeJSON(w.ManifestPath(), entries, "manifest")
}

// ReadManifest loads the image manifest.
func (w *Workspace) ReadManifest() ([]ManifestEntry, error) {
	var entries []ManifestEntry
	if err := readJSON(w.ManifestPath(), &entries, "manifest"); err != nil {
		return nil, err
	}
	return entries, nil
}

// WriteFindings stores the verification report.
func (w *Workspace) WriteFindings(findings []agent.Finding) error {
	return writeJSON(w.FindingsPath(), findings, "findings")
}

// ReadFindings loads the verification report.
func (w *Workspace) ReadFindings() ([]agent.Finding, error) {
	var findings []agent.Finding
	if err := readJSON(w.FindingsPath(), &findings, "findings"); err != nil {
		return nil, err
	}
	return findings, nil
}

func writeJSON(path string, v any, what string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", what, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", what, err)
	}
	return nil
}

func readJSON(path string, v any, what string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", what, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", what, err)
	}
	return nil
}
