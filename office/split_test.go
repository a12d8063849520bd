package office

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// buildThreeSectionDoc lays out headings at paragraphs 0, 40 and 90 with
// filler text between them.
func buildThreeSectionDoc(t *testing.T) string {
	t.Helper()
	paras := []para{{text: "一、项目概况", style: "1"}}
	paras = append(paras, repeat(39, "概况正文")...)
	paras = append(paras, para{text: "二、技术要求", style: "1"})
	paras = append(paras, repeat(49, "技术正文")...)
	paras = append(paras, para{text: "三、商务条件", style: "1"})
	paras = append(paras, repeat(10, "商务正文")...)
	return writeDocx(t, "tender.docx", paras, nil, nil)
}

func TestSplitThreeSections(t *testing.T) {
	path := buildThreeSectionDoc(t)
	dir := t.TempDir()

	b, _ := NewPackageBackend("")
	outline, err := b.Outline(context.Background(), path)
	if err != nil {
		t.Fatalf("Outline: %v", err)
	}
	sections, warns, err := b.Split(context.Background(), path, outline, 1, dir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(warns) != 0 {
		t.Errorf("unexpected warnings: %+v", warns)
	}
	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(sections))
	}

	wantNames := []string{"1_项目概况.docx", "2_技术要求.docx", "3_商务条件.docx"}
	wantRanges := [][2]int{{0, 40}, {40, 90}, {90, 101}}
	for i, s := range sections {
		if got := filepath.Base(s.Path); got != wantNames[i] {
			t.Errorf("section %d file = %s, want %s", i, got, wantNames[i])
		}
		if s.Start.Paragraph != wantRanges[i][0] || s.End.Paragraph != wantRanges[i][1] {
			t.Errorf("section %d range = [%d,%d), want [%d,%d)",
				i, s.Start.Paragraph, s.End.Paragraph, wantRanges[i][0], wantRanges[i][1])
		}
		if s.SizeByte == 0 {
			t.Errorf("section %d has zero size", i)
		}
	}
	if sections[2].AtEnd != true || sections[0].AtEnd != false {
		t.Errorf("AtEnd flags wrong: %+v", sections)
	}
}

func TestSplitSectionsAreReadable(t *testing.T) {
	path := buildThreeSectionDoc(t)
	dir := t.TempDir()

	b, _ := NewPackageBackend("")
	outline, _ := b.Outline(context.Background(), path)
	sections, _, err := b.Split(context.Background(), path, outline, 1, dir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	doc, err := Open(sections[1].Path)
	if err != nil {
		t.Fatalf("reading split section: %v", err)
	}
	if doc.ParagraphCount() != 50 {
		t.Errorf("section paragraph count = %d, want 50", doc.ParagraphCount())
	}
	if got := doc.ParagraphText(0); got != "二、技术要求" {
		t.Errorf("first paragraph = %q, want heading", got)
	}
}

func TestSplitFirstSectionAbsorbsPreamble(t *testing.T) {
	paras := append(repeat(3, "封面与声明"),
		para{text: "一、项目概况", style: "1"},
		para{text: "正文"})
	path := writeDocx(t, "preamble.docx", paras, nil, nil)
	dir := t.TempDir()

	b, _ := NewPackageBackend("")
	outline, _ := b.Outline(context.Background(), path)
	sections, _, err := b.Split(context.Background(), path, outline, 1, dir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(sections))
	}
	if sections[0].Start.Paragraph != 0 {
		t.Errorf("first section starts at %d, want 0", sections[0].Start.Paragraph)
	}
	doc, err := Open(sections[0].Path)
	if err != nil {
		t.Fatalf("reading section: %v", err)
	}
	if doc.ParagraphCount() != 5 {
		t.Errorf("paragraph count = %d, want 5 (preamble included)", doc.ParagraphCount())
	}
}

func TestSplitEmptyOutline(t *testing.T) {
	path := writeDocx(t, "empty.docx", repeat(3, "正文"), nil, nil)
	b, _ := NewPackageBackend("")
	_, _, err := b.Split(context.Background(), path, nil, 1, t.TempDir())
	if !errors.Is(err, ErrEmptyOutline) {
		t.Fatalf("err = %v, want ErrEmptyOutline", err)
	}
}

func TestSplitBoundariesFallsBackToShallowestLevel(t *testing.T) {
	outline := []OutlineEntry{
		{Level: 2, Title: "（一）", Anchor: Anchor{Paragraph: 1}},
		{Level: 3, Title: "1.1.1", Anchor: Anchor{Paragraph: 3}},
		{Level: 2, Title: "（二）", Anchor: Anchor{Paragraph: 5}},
	}
	got := SplitBoundaries(outline, 1)
	if len(got) != 2 || got[0].Title != "（一）" || got[1].Title != "（二）" {
		t.Fatalf("boundaries = %+v", got)
	}
}

func TestSanitizeTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"一、项目概况", "项目概况"},
		{"（二）技术 要求", "技术_要求"},
		{"1.2 实施方案", "实施方案"},
		{"a/b:c*d", "a_b_c_d"},
		{"一、", "section"},
	}
	for _, c := range cases {
		if got := SanitizeTitle(c.in); got != c.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
