package office

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// defaultHeadingStyles matches Word heading style IDs, both the English
// "Heading1".."Heading9" family and the Chinese "标题 1" family whose style
// IDs are commonly the bare digit.
const defaultHeadingStyles = `(?i)^(?:heading\s*|标题\s*)?([1-9])$`

// PackageBackend extracts outlines and split sections by parsing the OOXML
// package directly, without a host document application. Anchors are
// paragraph indices.
type PackageBackend struct {
	headingStyle *regexp.Regexp
}

// NewPackageBackend creates the library-only backend. pattern overrides the
// heading style regexp; empty selects the default.
func NewPackageBackend(pattern string) (*PackageBackend, error) {
	if pattern == "" {
		pattern = defaultHeadingStyles
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling heading style pattern: %w", err)
	}
	return &PackageBackend{headingStyle: re}, nil
}

func (b *PackageBackend) Name() string { return "package" }

// Outline walks the document body and emits one entry per heading paragraph.
// Levels come from style metadata; when the document carries no heading
// styles at all, numeric prefixes and finally a font-size heuristic take
// over, the latter marking its entries low-confidence.
func (b *PackageBackend) Outline(ctx context.Context, path string) ([]OutlineEntry, error) {
	doc, err := Open(path)
	if err != nil {
		return nil, err
	}
	entries := b.outlineOf(doc)
	if len(entries) == 0 {
		return nil, ErrNoHeadings
	}
	return entries, nil
}

func (b *PackageBackend) outlineOf(doc *Document) []OutlineEntry {
	var entries []OutlineEntry

	// Pass 1: style metadata.
	for i, blk := range doc.blocks {
		if blk.kind != "p" || blk.text == "" {
			continue
		}
		lvl, ok := b.styleLevel(blk.style)
		if !ok {
			continue
		}
		entries = append(entries, OutlineEntry{
			Level:  lvl,
			Title:  blk.text,
			Order:  len(entries),
			Anchor: Anchor{Paragraph: i},
		})
	}
	if len(entries) > 0 {
		return entries
	}

	// Pass 2: numeric prefixes ("1.2.3", "一、", "（二）") on short lines.
	for i, blk := range doc.blocks {
		if blk.kind != "p" || blk.text == "" || utf8.RuneCountInString(blk.text) > 60 {
			continue
		}
		lvl := numericPrefixLevel(blk.text)
		if lvl == 0 {
			continue
		}
		entries = append(entries, OutlineEntry{
			Level:  lvl,
			Title:  blk.text,
			Order:  len(entries),
			Anchor: Anchor{Paragraph: i},
		})
	}
	if len(entries) > 0 {
		return entries
	}

	// Pass 3: font-size fallback. Lines set noticeably larger than the
	// document's dominant size are taken as level-1 headings and marked
	// low-confidence.
	body := dominantFontSize(doc.blocks)
	if body == 0 {
		return nil
	}
	for i, blk := range doc.blocks {
		if blk.kind != "p" || blk.text == "" || utf8.RuneCountInString(blk.text) > 60 {
			continue
		}
		if blk.maxSz > body {
			entries = append(entries, OutlineEntry{
				Level:         1,
				Title:         blk.text,
				Order:         len(entries),
				Anchor:        Anchor{Paragraph: i},
				LowConfidence: true,
			})
		}
	}
	return entries
}

// styleLevel maps a paragraph style ID to a heading level.
func (b *PackageBackend) styleLevel(style string) (int, bool) {
	if style == "" {
		return 0, false
	}
	if strings.EqualFold(style, "title") {
		return 1, true
	}
	m := b.headingStyle.FindStringSubmatch(style)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if n, err := strconv.Atoi(g); err == nil && n >= 1 && n <= 9 {
			return n, true
		}
	}
	return 0, false
}

var (
	cnTopPrefix  = regexp.MustCompile(`^[一二三四五六七八九十百]+[、．.]`)
	cnSubPrefix  = regexp.MustCompile(`^[（(][一二三四五六七八九十百]+[）)]`)
	numDotPrefix = regexp.MustCompile(`^(\d+(?:\.\d+)*)[、．.\s)）]`)
)

// numericPrefixLevel infers a heading level from the text's numbering
// prefix, returning 0 when no prefix is present.
func numericPrefixLevel(text string) int {
	if cnTopPrefix.MatchString(text) {
		return 1
	}
	if cnSubPrefix.MatchString(text) {
		return 2
	}
	if m := numDotPrefix.FindStringSubmatch(text); m != nil {
		return strings.Count(m[1], ".") + 1
	}
	return 0
}

// dominantFontSize returns the most common non-zero run size across blocks.
func dominantFontSize(blocks []block) int {
	counts := make(map[int]int)
	for _, blk := range blocks {
		if blk.maxSz > 0 {
			counts[blk.maxSz]++
		}
	}
	best, bestN := 0, 0
	for sz, n := range counts {
		if n > bestN || (n == bestN && sz < best) {
			best, bestN = sz, n
		}
	}
	return best
}
