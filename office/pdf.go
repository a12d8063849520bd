package office

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFBackend extracts outlines from PDF tender documents by walking page
// text, and splits them into per-section PDFs by page range. Anchors are
// page numbers; paragraph positions are not available for this format.
type PDFBackend struct{}

func NewPDFBackend() *PDFBackend { return &PDFBackend{} }

func (b *PDFBackend) Name() string { return "pdf" }

// Outline scans each page's text lines for heading patterns: numbered
// prefixes and short emphasised lines. PDF carries no style metadata, so all
// entries are level-derived from numbering and marked low-confidence when
// only the line-shape heuristic fired.
func (b *PDFBackend) Outline(ctx context.Context, path string) ([]OutlineEntry, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening PDF: %v", ErrUnreadable, err)
	}
	defer f.Close()

	var entries []OutlineEntry
	total := reader.NumPage()
	for p := 1; p <= total; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(p)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("pdf outline: page text extraction failed", "page", p, "error", err)
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || utf8.RuneCountInString(line) > 60 {
				continue
			}
			lvl := numericPrefixLevel(line)
			low := false
			if lvl == 0 {
				if !isUpperHeading(line) {
					continue
				}
				lvl = 1
				low = true
			}
			entries = append(entries, OutlineEntry{
				Level:         lvl,
				Title:         line,
				Order:         len(entries),
				Anchor:        Anchor{Page: p},
				LowConfidence: low,
			})
		}
	}

	if len(entries) == 0 {
		return nil, ErrNoHeadings
	}
	return entries, nil
}

// Split writes one PDF per boundary entry covering its page range.
// Boundaries on the same page are merged into the earlier section since page
// ranges cannot be subdivided.
func (b *PDFBackend) Split(ctx context.Context, path string, outline []OutlineEntry, level int, dir string) ([]SectionFile, []Warning, error) {
	if len(outline) == 0 {
		return nil, nil, ErrEmptyOutline
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating split dir: %w", err)
	}

	totalPages, err := api.PageCountFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: counting pages: %v", ErrUnreadable, err)
	}

	all := SplitBoundaries(outline, level)
	// Drop boundaries that start on a page already claimed by the previous
	// section.
	boundaries := all[:0:0]
	lastPage := -1
	for _, e := range all {
		if e.Anchor.Page == lastPage {
			continue
		}
		boundaries = append(boundaries, e)
		lastPage = e.Anchor.Page
	}

	var sections []SectionFile
	var warnings []Warning
	for i, entry := range boundaries {
		if err := ctx.Err(); err != nil {
			return sections, warnings, err
		}

		startPage := entry.Anchor.Page
		if i == 0 {
			startPage = 1
		}
		endPage := totalPages
		atEnd := true
		if i+1 < len(boundaries) {
			endPage = boundaries[i+1].Anchor.Page - 1
			atEnd = false
		}
		if endPage < startPage {
			endPage = startPage
		}

		name := fmt.Sprintf("%d_%s.pdf", i+1, SanitizeTitle(entry.Title))
		outPath := filepath.Join(dir, name)
		pageRange := []string{fmt.Sprintf("%d-%d", startPage, endPage)}

		if err := api.TrimFile(path, outPath, pageRange, nil); err != nil {
			slog.Warn("pdf split: section write failed", "section", name, "error", err)
			warnings = append(warnings, Warning{
				Op:     "split",
				Detail: fmt.Sprintf("section %d (%s): %v", i+1, entry.Title, err),
			})
			continue
		}
		var size int64
		if info, err := os.Stat(outPath); err == nil {
			size = info.Size()
		}

		sections = append(sections, SectionFile{
			Index:    i,
			Title:    entry.Title,
			Path:     outPath,
			Start:    Anchor{Page: startPage},
			End:      Anchor{Page: endPage + 1},
			AtEnd:    atEnd,
			SizeByte: size,
		})
	}

	return sections, warnings, nil
}

// isUpperHeading reports lines that look like unstyled headings: short,
// letter-led, and without sentence punctuation at the end.
func isUpperHeading(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	if !unicode.IsLetter(r) {
		return false
	}
	if strings.ContainsAny(line, "。.!?，,;；") {
		return false
	}
	upper := strings.ToUpper(line)
	return upper == line && utf8.RuneCountInString(line) >= 4
}
