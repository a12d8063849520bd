package office

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// block is one top-level child of the document body: a paragraph, a table,
// or the trailing sectPr. raw holds the exact XML bytes of the element so
// the splitter can clone it without losing formatting.
type block struct {
	kind  string // "p", "tbl", "sectPr", ...
	raw   []byte
	text  string
	style string
	maxSz int      // largest w:sz (half-points) seen in the block's runs
	blips []string // relationship IDs of embedded images, in order
}

// Document is a parsed .docx package. Body blocks are kept with their raw
// XML; auxiliary package parts are retained so split sections can be
// reassembled into self-contained documents.
type Document struct {
	path        string
	blocks      []block
	docStartTag []byte // raw "<w:document ...>" start tag with namespaces
	sectPr      []byte // raw body-level sectPr, nil if absent
	parts       map[string][]byte
	rels        map[string]string // rId -> target (relative to word/)
}

// Open reads a .docx package and parses its body into blocks.
func Open(path string) (*Document, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrUnreadable, path, err)
	}
	defer r.Close()

	parts := make(map[string][]byte, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrUnreadable, f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrUnreadable, f.Name, err)
		}
		parts[f.Name] = data
	}

	docXML, ok := parts["word/document.xml"]
	if !ok {
		return nil, fmt.Errorf("%w: word/document.xml missing", ErrUnreadable)
	}

	doc := &Document{
		path:  path,
		parts: parts,
		rels:  parseRels(parts["word/_rels/document.xml.rels"]),
	}
	if err := doc.parseBody(docXML); err != nil {
		return nil, err
	}
	return doc, nil
}

// Path returns the source file path.
func (d *Document) Path() string { return d.path }

// ParagraphCount returns the number of body blocks.
func (d *Document) ParagraphCount() int { return len(d.blocks) }

// ParagraphText returns the text of block i, or "" if out of range.
func (d *Document) ParagraphText(i int) string {
	if i < 0 || i >= len(d.blocks) {
		return ""
	}
	return d.blocks[i].text
}

// parseBody walks word/document.xml once, collecting per-block text, style,
// run font sizes and image references together with the raw byte range of
// each body child.
func (d *Document) parseBody(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))

	depth := 0
	inBody := false
	inT := false
	var childStart int64
	var cur *block
	var prevOff int64

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: parsing document.xml: %v", ErrUnreadable, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "document" && depth == 0:
				d.docStartTag = bytes.TrimSpace(data[prevOff:dec.InputOffset()])
			case t.Name.Local == "body" && depth == 1:
				inBody = true
			case inBody && depth == 2:
				childStart = prevOff
				cur = &block{kind: t.Name.Local}
			}
			if cur != nil && depth >= 3 {
				switch t.Name.Local {
				case "pStyle":
					if cur.style == "" {
						cur.style = attrVal(t, "val")
					}
				case "t":
					inT = true
				case "sz":
					if v, err := strconv.Atoi(attrVal(t, "val")); err == nil && v > cur.maxSz {
						cur.maxSz = v
					}
				case "blip":
					if id := attrVal(t, "embed"); id != "" {
						cur.blips = append(cur.blips, id)
					}
				}
			}
			depth++

		case xml.EndElement:
			depth--
			if t.Name.Local == "t" {
				inT = false
			}
			if inBody && depth == 2 && cur != nil {
				cur.raw = data[childStart:dec.InputOffset()]
				cur.text = strings.TrimSpace(cur.text)
				if cur.kind == "sectPr" {
					d.sectPr = cur.raw
				} else {
					d.blocks = append(d.blocks, *cur)
				}
				cur = nil
			}
			if t.Name.Local == "body" && depth == 1 {
				inBody = false
			}

		case xml.CharData:
			if inT && cur != nil {
				cur.text += string(t)
			}
		}

		prevOff = dec.InputOffset()
	}

	return nil
}

// parseRels reads a relationships part and returns rId -> target.
func parseRels(data []byte) map[string]string {
	if data == nil {
		return nil
	}
	var rels struct {
		XMLName xml.Name `xml:"Relationships"`
		Rels    []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}
	m := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		m[rel.ID] = rel.Target
	}
	return m
}

func attrVal(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
