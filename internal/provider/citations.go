package provider

import (
	"strconv"
	"strings"
)

// Citation is one upstream annotation surfaced by a provider stream (e.g.
// Anthropic's web-search citation blocks): a URL and the title the model
// associated with it.
type Citation struct {
	URL   string
	Title string
}

// CitationTracker implements spec §4.1's citation bookkeeping: citations are
// deduplicated by URL and numbered in first-seen order. The issuance
// counter is not the index — insertion order into the set is — so Track
// returns the same number for a URL seen twice.
type CitationTracker struct {
	index map[string]int
	order []Citation
}

func NewCitationTracker() *CitationTracker {
	return &CitationTracker{index: make(map[string]int)}
}

// Track records a citation and returns its 1-based reference number. An
// empty URL is not tracked and returns 0 (no inline marker should be
// emitted for it).
func (t *CitationTracker) Track(url, title string) int {
	if url == "" {
		return 0
	}
	if n, ok := t.index[url]; ok {
		return n
	}
	t.order = append(t.order, Citation{URL: url, Title: title})
	n := len(t.order)
	t.index[url] = n
	return n
}

// Empty reports whether any citation has been tracked.
func (t *CitationTracker) Empty() bool { return len(t.order) == 0 }

// Footnote renders the trailing `References:` block named in spec §4.1,
// one line per citation in first-seen order, numbering matching the inline
// ` [n]` markers. Returns "" if no citation was tracked.
func (t *CitationTracker) Footnote() string {
	if t.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("References:")
	for i, c := range t.order {
		b.WriteString("\n")
		b.WriteString(referenceLine(i+1, c))
	}
	return b.String()
}

func referenceLine(n int, c Citation) string {
	if c.Title == "" {
		return "[" + strconv.Itoa(n) + "] " + c.URL
	}
	return "[" + strconv.Itoa(n) + "] " + c.Title + " - " + c.URL
}

// AppendCitationMarker appends the ` [n]` inline reference marker named in
// spec §4.1 to text, for a citation tracked at index n.
func AppendCitationMarker(text string, n int) string {
	if n == 0 {
		return text
	}
	return text + " [" + strconv.Itoa(n) + "]"
}
