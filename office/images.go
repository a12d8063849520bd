package office

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path"
	"sort"
	"strings"
	"unicode/utf8"
)

// minImageDim filters decorative bitmaps (bullets, rules) out of the result.
const minImageDim = 32

// maxContextBlocks bounds how far the context search walks away from the
// image-bearing paragraph in either direction.
const maxContextBlocks = 20

// ExtractImages enumerates every embedded raster image in the document,
// deduplicated by content hash: a bitmap referenced from two drawings yields
// one Image with two locations. boundaries are the paragraph anchors of the
// split sections (ascending) used to attribute each location to a section;
// nil attributes everything to section 0. window bounds the context text
// gathered on each side of an image, in characters.
func ExtractImages(doc *Document, boundaries []int, window int) ([]Image, []Warning) {
	if window <= 0 {
		window = 400
	}

	type occurrence struct {
		blockIdx int
		rID      string
	}
	var occurrences []occurrence
	for i, blk := range doc.blocks {
		for _, rID := range blk.blips {
			occurrences = append(occurrences, occurrence{blockIdx: i, rID: rID})
		}
	}
	if len(occurrences) == 0 {
		return nil, nil
	}

	groups := imageGroups(doc)

	var warnings []Warning
	byHash := make(map[string]*Image)
	var order []string

	for n, occ := range occurrences {
		target, ok := doc.rels[occ.rID]
		if !ok {
			warnings = append(warnings, Warning{Op: "images", Detail: fmt.Sprintf("unresolved relationship %s", occ.rID)})
			continue
		}
		mediaPath := path.Clean("word/" + strings.ReplaceAll(target, "\\", "/"))
		data, ok := doc.parts[mediaPath]
		if !ok {
			slog.Debug("images: media part missing", "path", mediaPath, "rid", occ.rID)
			warnings = append(warnings, Warning{Op: "images", Detail: fmt.Sprintf("media part %s missing", mediaPath)})
			continue
		}

		mime := mimeFromExt(path.Ext(mediaPath))
		if mime == "" {
			continue
		}
		w, h := imageSize(data)
		if w > 0 && (w < minImageDim || h < minImageDim) {
			continue // decorative
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])

		loc := ImageLocation{
			ParagraphIndex: occ.blockIdx,
			SectionIndex:   sectionIndexOf(occ.blockIdx, boundaries),
		}

		if img, seen := byHash[hash]; seen {
			img.Locations = append(img.Locations, loc)
			continue
		}

		gi, gs := groupPosition(groups, n)
		byHash[hash] = &Image{
			Hash:        hash,
			Data:        data,
			MIMEType:    mime,
			Ext:         strings.TrimPrefix(path.Ext(mediaPath), "."),
			Width:       w,
			Height:      h,
			Locations:   []ImageLocation{loc},
			ContextText: contextText(doc, occ.blockIdx, window),
			GroupIndex:  gi,
			GroupSize:   gs,
		}
		order = append(order, hash)
	}

	images := make([]Image, 0, len(order))
	for _, hash := range order {
		images = append(images, *byHash[hash])
	}
	return images, warnings
}

// imageGroups partitions occurrence indices into runs of consecutive
// image-bearing blocks so sibling images can share a name stem with ordinal
// suffixes.
func imageGroups(doc *Document) [][]int {
	var groups [][]int
	var current []int
	prevBlock := -2
	n := 0
	for i, blk := range doc.blocks {
		for range blk.blips {
			if i == prevBlock || i == prevBlock+1 {
				current = append(current, n)
			} else {
				if len(current) > 0 {
					groups = append(groups, current)
				}
				current = []int{n}
			}
			prevBlock = i
			n++
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// groupPosition returns the 1-based position and size of the group
// containing occurrence n.
func groupPosition(groups [][]int, n int) (int, int) {
	for _, g := range groups {
		for i, v := range g {
			if v == n {
				return i + 1, len(g)
			}
		}
	}
	return 1, 1
}

// sectionIndexOf maps a paragraph index to the section whose range contains
// it. boundaries must be ascending paragraph anchors; the first section
// starts at paragraph 0 regardless of its anchor.
func sectionIndexOf(para int, boundaries []int) int {
	if len(boundaries) == 0 {
		return 0
	}
	idx := sort.SearchInts(boundaries, para+1) - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

// contextText gathers the nearest non-empty paragraph text before and after
// the image, each side bounded by window characters.
func contextText(doc *Document, blockIdx, window int) string {
	var before, after []string
	got := 0
	for i := blockIdx; i >= 0 && i > blockIdx-maxContextBlocks && got < window; i-- {
		t := doc.blocks[i].text
		if t == "" {
			continue
		}
		before = append([]string{t}, before...)
		got += utf8.RuneCountInString(t)
	}
	got = 0
	for i := blockIdx + 1; i < len(doc.blocks) && i < blockIdx+maxContextBlocks && got < window; i++ {
		t := doc.blocks[i].text
		if t == "" {
			continue
		}
		after = append(after, t)
		got += utf8.RuneCountInString(t)
	}

	text := strings.Join(append(before, after...), "\n")
	return truncateRunes(text, 2*window)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// mimeFromExt returns the MIME type for common image extensions.
func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".emf":
		return "image/emf"
	case ".wmf":
		return "image/wmf"
	default:
		return ""
	}
}

// imageSize returns the pixel dimensions of an encoded image, or zeros when
// the format cannot be decoded (EMF/WMF vector parts).
func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
