package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tenderlens/tenderlens/office"
)

const anchorFenceOpen = "```json anchors"

// WriteOutline renders the extracted outline as markdown. The human part
// is a level summary plus one heading line per entry; the trailing fenced
// JSON block carries the exact anchors so later stages can reload the
// outline without reparsing the source document.
func (w *Workspace) WriteOutline(entries []office.OutlineEntry) error {
	var b strings.Builder
	b.WriteString("# 文档目录结构\n\n")

	counts := map[int]int{}
	for _, e := range entries {
		counts[e.Level]++
	}
	levels := make([]int, 0, len(counts))
	for l := range counts {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	b.WriteString(fmt.Sprintf("共 %d 个标题", len(entries)))
	for _, l := range levels {
		b.WriteString(fmt.Sprintf("，%d 级 %d 个", l, counts[l]))
	}
	b.WriteString("。\n\n")

	for _, e := range entries {
		b.WriteString(strings.Repeat("#", e.Level+1))
		b.WriteByte(' ')
		b.WriteString(e.Title)
		if e.LowConfidence {
			b.WriteString(" (低置信度)")
		}
		b.WriteByte('\n')
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding anchors: %w", err)
	}
	b.WriteString("\n" + anchorFenceOpen + "\n")
	b.Write(data)
	b.WriteString("\n```\n")

	if err := os.WriteFile(w.OutlinePath(), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing outline: %w", err)
	}
	return nil
}

// ReadOutline loads the outline back from the markdown artifact's fenced
// JSON block.
func (w *Workspace) ReadOutline() ([]office.OutlineEntry, error) {
	data, err := os.ReadFile(w.OutlinePath())
	if err != nil {
		return nil, fmt.Errorf("reading outline: %w", err)
	}
	text := string(data)
	start := strings.Index(text, anchorFenceOpen)
	if start < 0 {
		return nil, fmt.Errorf("outline has no anchor block")
	}
	rest := text[start+len(anchorFenceOpen):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return nil, fmt.Errorf("outline anchor block not closed")
	}
	var entries []office.OutlineEntry
	if err := json.Unmarshal([]byte(rest[:end]), &entries); err != nil {
		return nil, fmt.Errorf("decoding anchors: %w", err)
	}
	return entries, nil
}
