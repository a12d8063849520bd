package office

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// para describes one body paragraph of a test document.
type para struct {
	text  string
	style string
	sz    int      // w:sz half-points, 0 omits the run property
	blips []string // relationship IDs of embedded images
}

// testPNG creates a minimal PNG with the given dimensions. Equal content
// always yields equal bytes, so two calls with the same size produce the
// same hash.
func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("creating test PNG: %v", err)
	}
	return buf.Bytes()
}

// writeDocx builds a .docx ZIP with the given paragraphs and media parts
// (relationship ID -> file name under word/media/) and returns its path.
func writeDocx(t *testing.T, name string, paras []para, media map[string]string, mediaData map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating docx file: %v", err)
	}
	w := zip.NewWriter(f)

	var body strings.Builder
	for _, p := range paras {
		body.WriteString("<w:p>")
		if p.style != "" {
			body.WriteString(fmt.Sprintf(`<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, p.style))
		}
		body.WriteString("<w:r>")
		if p.sz > 0 {
			body.WriteString(fmt.Sprintf(`<w:rPr><w:sz w:val="%d"/></w:rPr>`, p.sz))
		}
		body.WriteString("<w:t>" + p.text + "</w:t></w:r>")
		for _, rid := range p.blips {
			body.WriteString(fmt.Sprintf(
				`<w:r><w:drawing><wp:inline><a:graphic><a:graphicData><pic:pic><pic:blipFill><a:blip r:embed="%s"/></pic:blipFill></pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r>`, rid))
		}
		body.WriteString("</w:p>")
	}

	docXML := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"
            xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"
            xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"
            xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
            xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">
<w:body>` + body.String() + `<w:sectPr><w:pgSz w:w="11906" w:h="16838"/></w:sectPr></w:body></w:document>`
	addZipFile(t, w, "word/document.xml", []byte(docXML))

	var rels strings.Builder
	rels.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for rid, file := range media {
		rels.WriteString(fmt.Sprintf(
			`<Relationship Id="%s" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/%s"/>`, rid, file))
	}
	rels.WriteString(`</Relationships>`)
	addZipFile(t, w, "word/_rels/document.xml.rels", []byte(rels.String()))

	addZipFile(t, w, "[Content_Types].xml", []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Default Extension="png" ContentType="image/png"/>
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`))

	for file, data := range mediaData {
		addZipFile(t, w, "word/media/"+file, data)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing file: %v", err)
	}
	return path
}

func addZipFile(t *testing.T, w *zip.Writer, name string, data []byte) {
	t.Helper()
	fw, err := w.Create(name)
	if err != nil {
		t.Fatalf("creating zip entry %s: %v", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("writing zip entry %s: %v", name, err)
	}
}

// repeat returns n body paragraphs of filler text.
func repeat(n int, prefix string) []para {
	out := make([]para, n)
	for i := range out {
		out[i] = para{text: fmt.Sprintf("%s %d", prefix, i)}
	}
	return out
}
