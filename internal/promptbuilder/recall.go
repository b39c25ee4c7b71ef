package promptbuilder

import "strings"

// RecallItem is one memory surfaced by the Runner's per-request implicit
// recall search, decoupled from internal/memstore.SearchResult so this
// package stays free of that dependency.
type RecallItem struct {
	Content  string
	Category string
}

// RenderImplicitRecall renders the Runner's per-request "implicit recall"
// sub-block, appended inside the MEMORY section of an already-built
// prompt. Callers are expected to have already excluded the procedural
// category to avoid double-listing it alongside GetProceduralMemories.
func RenderImplicitRecall(items []RecallItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<implicit-recall>\n")
	for _, it := range items {
		b.WriteString("- [")
		b.WriteString(it.Category)
		b.WriteString("] ")
		b.WriteString(it.Content)
		b.WriteString("\n")
	}
	b.WriteString("</implicit-recall>")
	return b.String()
}
