package office

import (
	"context"
	"errors"
)

var (
	// ErrNoHeadings is returned by Outline when no headings are detected.
	ErrNoHeadings = errors.New("office: no headings detected")

	// ErrEmptyOutline is returned by Split when the outline has no entries.
	ErrEmptyOutline = errors.New("office: empty outline")

	// ErrUnreadable is returned when a source document cannot be opened or
	// its package is structurally invalid.
	ErrUnreadable = errors.New("office: source unreadable")

	// ErrBusy is returned by the automation backend when the bridge keeps
	// rejecting calls after bounded retries.
	ErrBusy = errors.New("office: automation bridge busy")
)

// Anchor locates a position inside a source document. Exactly one locator is
// meaningful per backend: the package backend uses paragraph indices, the PDF
// backend uses pages, and the automation backend supplies both.
type Anchor struct {
	Paragraph int `json:"paragraph,omitempty"`
	Page      int `json:"page,omitempty"`
}

// OutlineEntry is one heading of a document outline.
type OutlineEntry struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	// Order is the encounter position, unique and strictly increasing.
	Order  int    `json:"order"`
	Anchor Anchor `json:"anchor"`
	// LowConfidence marks entries derived from the font-size fallback
	// rather than style metadata.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// SectionFile is a split sub-document written to disk.
type SectionFile struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Path     string `json:"path"`
	Start    Anchor `json:"start"`
	End      Anchor `json:"end"` // exclusive; zero value means document end
	AtEnd    bool   `json:"at_end,omitempty"`
	SizeByte int64  `json:"size_bytes"`
}

// ImageLocation records one place an embedded image appears.
type ImageLocation struct {
	ParagraphIndex int `json:"paragraph_index"`
	SectionIndex   int `json:"section_index"`
}

// Image is an embedded image extracted from a document. The same bitmap
// referenced from several drawings collapses into one Image with multiple
// locations.
type Image struct {
	Hash        string          `json:"hash"`
	Data        []byte          `json:"-"`
	MIMEType    string          `json:"mime_type"`
	Ext         string          `json:"ext"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Locations   []ImageLocation `json:"locations"`
	ContextText string          `json:"context_text"`
	// GroupIndex/GroupSize identify runs of consecutive images that share
	// the same surrounding text, so generated names can be suffixed.
	GroupIndex int `json:"group_index"`
	GroupSize  int `json:"group_size"`
}

// Warning is a recovered, non-fatal condition reported by a backend
// operation. The run continues; warnings end up in the stage result.
type Warning struct {
	Op     string `json:"op"`
	Detail string `json:"detail"`
}

// Backend produces outlines and split sections for a document. The package
// backend parses the OOXML package directly; the automation backend drives a
// host document application through a local bridge. Both satisfy the same
// contract so the coordinator never branches on backend kind.
type Backend interface {
	Name() string
	Outline(ctx context.Context, path string) ([]OutlineEntry, error)
	// Split writes one sub-document per outline entry at the given level
	// into dir and returns them in order. Per-section write failures are
	// reported as warnings, not errors.
	Split(ctx context.Context, path string, outline []OutlineEntry, level int, dir string) ([]SectionFile, []Warning, error)
}
