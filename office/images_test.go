package office

import (
	"strings"
	"testing"
)

func TestExtractImagesDeduplicatesByContent(t *testing.T) {
	img := testPNG(t, 64, 64)
	paras := []para{
		{text: "法定代表人授权书"},
		{text: "公章如下：", blips: []string{"rId1"}},
		{text: "中间正文。"},
		{text: "再次加盖公章：", blips: []string{"rId2"}},
	}
	// Two relationships, two media parts, identical bytes.
	path := writeDocx(t, "dup.docx", paras,
		map[string]string{"rId1": "image1.png", "rId2": "image2.png"},
		map[string][]byte{"image1.png": img, "image2.png": img})

	doc, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	images, warns := ExtractImages(doc, []int{0, 2}, 400)
	if len(warns) != 0 {
		t.Errorf("unexpected warnings: %+v", warns)
	}
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1 after dedup", len(images))
	}
	got := images[0]
	if len(got.Locations) != 2 {
		t.Fatalf("got %d locations, want 2: %+v", len(got.Locations), got.Locations)
	}
	if got.Locations[0].ParagraphIndex != 1 || got.Locations[0].SectionIndex != 0 {
		t.Errorf("first location = %+v, want paragraph 1 section 0", got.Locations[0])
	}
	if got.Locations[1].ParagraphIndex != 3 || got.Locations[1].SectionIndex != 1 {
		t.Errorf("second location = %+v, want paragraph 3 section 1", got.Locations[1])
	}
	if got.MIMEType != "image/png" || got.Width != 64 || got.Height != 64 {
		t.Errorf("image metadata = %s %dx%d", got.MIMEType, got.Width, got.Height)
	}
}

func TestExtractImagesContextText(t *testing.T) {
	img := testPNG(t, 64, 64)
	paras := []para{
		{text: "法定代表人授权书"},
		{text: "", blips: []string{"rId1"}},
		{text: "授权人签字及盖章处。"},
	}
	path := writeDocx(t, "ctx.docx", paras,
		map[string]string{"rId1": "image1.png"},
		map[string][]byte{"image1.png": img})

	doc, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	images, _ := ExtractImages(doc, nil, 400)
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1", len(images))
	}
	ctx := images[0].ContextText
	if !strings.Contains(ctx, "法定代表人授权书") || !strings.Contains(ctx, "授权人签字及盖章处。") {
		t.Errorf("context text missing surrounding paragraphs: %q", ctx)
	}
}

func TestExtractImagesSkipsDecorative(t *testing.T) {
	big := testPNG(t, 64, 64)
	tiny := testPNG(t, 8, 8)
	paras := []para{
		{text: "正文", blips: []string{"rId1", "rId2"}},
	}
	path := writeDocx(t, "tiny.docx", paras,
		map[string]string{"rId1": "big.png", "rId2": "tiny.png"},
		map[string][]byte{"big.png": big, "tiny.png": tiny})

	doc, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	images, _ := ExtractImages(doc, nil, 400)
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1 (decorative filtered)", len(images))
	}
	if images[0].Width != 64 {
		t.Errorf("kept the wrong image: %+v", images[0])
	}
}

func TestExtractImagesGroupPositions(t *testing.T) {
	a := testPNG(t, 64, 64)
	b := testPNG(t, 80, 80)
	paras := []para{
		{text: "资质证书", blips: []string{"rId1"}},
		{text: "", blips: []string{"rId2"}},
	}
	path := writeDocx(t, "group.docx", paras,
		map[string]string{"rId1": "a.png", "rId2": "b.png"},
		map[string][]byte{"a.png": a, "b.png": b})

	doc, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	images, _ := ExtractImages(doc, nil, 400)
	if len(images) != 2 {
		t.Fatalf("got %d images, want 2", len(images))
	}
	if images[0].GroupIndex != 1 || images[0].GroupSize != 2 {
		t.Errorf("first image group = %d/%d, want 1/2", images[0].GroupIndex, images[0].GroupSize)
	}
	if images[1].GroupIndex != 2 || images[1].GroupSize != 2 {
		t.Errorf("second image group = %d/%d, want 2/2", images[1].GroupIndex, images[1].GroupSize)
	}
}

func TestExtractImagesUnresolvedRelationshipWarns(t *testing.T) {
	paras := []para{{text: "正文", blips: []string{"rId9"}}}
	path := writeDocx(t, "norel.docx", paras, nil, nil)

	doc, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	images, warns := ExtractImages(doc, nil, 400)
	if len(images) != 0 {
		t.Errorf("got %d images, want 0", len(images))
	}
	if len(warns) != 1 || warns[0].Op != "images" {
		t.Errorf("warnings = %+v, want one images warning", warns)
	}
}
