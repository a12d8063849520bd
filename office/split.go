package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Split partitions the document into one sub-document per outline entry at or
// above the requested level. Each section spans from its anchor up to the
// next boundary anchor; the first section absorbs any preamble before the
// first heading so the sections together cover the whole body.
func (b *PackageBackend) Split(ctx context.Context, path string, outline []OutlineEntry, level int, dir string) ([]SectionFile, []Warning, error) {
	if len(outline) == 0 {
		return nil, nil, ErrEmptyOutline
	}
	doc, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating split dir: %w", err)
	}

	boundaries := SplitBoundaries(outline, level)

	var sections []SectionFile
	var warnings []Warning
	for i, entry := range boundaries {
		if err := ctx.Err(); err != nil {
			return sections, warnings, err
		}

		start := entry.Anchor.Paragraph
		if i == 0 {
			start = 0
		}
		end := len(doc.blocks)
		atEnd := true
		if i+1 < len(boundaries) {
			end = boundaries[i+1].Anchor.Paragraph
			atEnd = false
		}

		name := fmt.Sprintf("%d_%s.docx", i+1, SanitizeTitle(entry.Title))
		outPath := filepath.Join(dir, name)

		writeStart := time.Now()
		if err := doc.writeSection(outPath, start, end); err != nil {
			slog.Warn("split: section write failed", "section", name, "error", err)
			warnings = append(warnings, Warning{
				Op:     "split",
				Detail: fmt.Sprintf("section %d (%s): %v", i+1, entry.Title, err),
			})
			continue
		}
		info, err := os.Stat(outPath)
		var size int64
		if err == nil {
			size = info.Size()
		}
		slog.Debug("split: section written",
			"file", name, "paragraphs", end-start,
			"elapsed", time.Since(writeStart).Round(time.Millisecond))

		sections = append(sections, SectionFile{
			Index:    i,
			Title:    entry.Title,
			Path:     outPath,
			Start:    Anchor{Paragraph: start},
			End:      Anchor{Paragraph: end},
			AtEnd:    atEnd,
			SizeByte: size,
		})
	}

	return sections, warnings, nil
}

// SplitBoundaries selects the outline entries that open a new section when
// splitting at the given level: every entry whose level is at or above it.
func SplitBoundaries(outline []OutlineEntry, level int) []OutlineEntry {
	if level < 1 {
		level = 1
	}
	var out []OutlineEntry
	for _, e := range outline {
		if e.Level <= level {
			out = append(out, e)
		}
	}
	// An outline whose entries all sit below the requested level still
	// yields one section per entry at the shallowest level present.
	if len(out) == 0 {
		min := outline[0].Level
		for _, e := range outline {
			if e.Level < min {
				min = e.Level
			}
		}
		for _, e := range outline {
			if e.Level == min {
				out = append(out, e)
			}
		}
	}
	return out
}

// writeSection clones blocks [start, end) into a new self-contained .docx at
// outPath. All auxiliary package parts (styles, numbering, media,
// relationships) are carried over unchanged so run formatting, tables and
// image references survive.
func (d *Document) writeSection(outPath string, start, end int) error {
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	var body bytes.Buffer
	body.WriteString(xml.Header)
	body.Write(d.docStartTag)
	body.WriteString("<w:body>")
	for i := start; i < end && i < len(d.blocks); i++ {
		body.Write(d.blocks[i].raw)
	}
	if d.sectPr != nil {
		body.Write(d.sectPr)
	}
	body.WriteString("</w:body></w:document>")

	for name, data := range d.parts {
		if name == "word/document.xml" {
			data = body.Bytes()
		}
		w, err := zw.Create(name)
		if err == nil {
			_, err = w.Write(data)
		}
		if err != nil {
			zw.Close()
			f.Close()
			os.Remove(outPath)
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(outPath)
		return err
	}
	return f.Close()
}

var unsafeTitleRunes = regexp.MustCompile(`[\\/:*?"<>|\s]+`)

// SanitizeTitle converts a heading title into a filesystem-safe name
// fragment. Numbering prefixes are dropped so "一、项目概况" becomes
// "项目概况".
func SanitizeTitle(title string) string {
	t := strings.TrimSpace(title)
	t = cnTopPrefix.ReplaceAllString(t, "")
	t = cnSubPrefix.ReplaceAllString(t, "")
	t = numDotPrefix.ReplaceAllString(t, "")
	t = unsafeTitleRunes.ReplaceAllString(strings.TrimSpace(t), "_")
	t = strings.Trim(t, "._")
	if t == "" {
		return "section"
	}
	// Bound the fragment so full paths stay well under OS limits.
	const maxRunes = 40
	if utf8.RuneCountInString(t) > maxRunes {
		runes := []rune(t)
		t = string(runes[:maxRunes])
	}
	return t
}
