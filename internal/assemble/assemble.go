// Package assemble turns ranked retrieval units into a token-budgeted context
// block with a citation map.
package assemble

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/docquill/docquill/internal/config"
)

// Rendering ceilings in runes for the lossy granularities.
const (
	summaryChars = 200
	digestChars  = 600
)

// Item is one ranked retrieval unit, either a semantic group or a bare chunk.
// GroupID is empty for chunk items.
type Item struct {
	DocID      string
	GroupID    string
	ChunkIndex int
	Text       string
}

// CitationRef resolves a citation identifier back to its source unit.
type CitationRef struct {
	DocID      string `json:"doc_id"`
	GroupID    string `json:"group_id,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
}

// Budget tracks token accounting during assembly. After assembly,
// Used + ReserveForAnswer never exceeds MaxTokens; items that would break
// that are skipped whole, never truncated mid-item.
type Budget struct {
	MaxTokens        int
	ReserveForAnswer int
	Used             int
}

// Remaining returns the tokens still spendable on context.
func (b Budget) Remaining() int {
	return b.MaxTokens - b.ReserveForAnswer - b.Used
}

// Result is the assembled context.
type Result struct {
	ContextText       string
	Citations         map[string]CitationRef
	GranularitiesUsed []config.Granularity
	Budget            Budget
	ItemsIncluded     int
	ItemsSkipped      int
}

// Assemble walks the ranked items in order. Each item is rendered at the
// default granularity; if that rendering does not fit the remaining budget, a
// cheaper granularity of the same item is tried before the item is skipped.
// Assembly stops when the list or the budget is exhausted. GranularitiesUsed
// records the granularities actually used, deduplicated in first-seen order.
func Assemble(items []Item, budget Budget, defaultGranularity config.Granularity) Result {
	result := Result{
		Citations: make(map[string]CitationRef),
		Budget:    budget,
	}

	var blocks []string
	seen := make(map[config.Granularity]bool)

	for _, item := range items {
		if result.Budget.Remaining() <= 0 {
			result.ItemsSkipped += len(items) - result.ItemsIncluded - result.ItemsSkipped
			break
		}

		granularity, rendered, cost, ok := fitItem(item.Text, result.Budget.Remaining(), defaultGranularity)
		if !ok {
			result.ItemsSkipped++
			continue
		}

		citationID := fmt.Sprintf("c%d", result.ItemsIncluded+1)
		result.Citations[citationID] = CitationRef{
			DocID:      item.DocID,
			GroupID:    item.GroupID,
			ChunkIndex: item.ChunkIndex,
		}
		blocks = append(blocks, fmt.Sprintf("[%s] %s", citationID, rendered))

		result.Budget.Used += cost
		result.ItemsIncluded++
		if !seen[granularity] {
			seen[granularity] = true
			result.GranularitiesUsed = append(result.GranularitiesUsed, granularity)
		}
	}

	result.ContextText = strings.Join(blocks, "\n\n")
	return result
}

// fitItem renders text at the requested granularity, falling back through
// cheaper granularities until one fits the remaining budget. A single item is
// never split across granularities.
func fitItem(text string, remaining int, granularity config.Granularity) (config.Granularity, string, int, bool) {
	for _, g := range fallbackChain(granularity) {
		rendered := Render(text, g)
		cost := EstimateTokens(rendered)
		if cost <= remaining {
			return g, rendered, cost, true
		}
	}
	return "", "", 0, false
}

// fallbackChain lists the granularities to try, cheapest last.
func fallbackChain(granularity config.Granularity) []config.Granularity {
	switch granularity {
	case config.GranularityFull:
		return []config.Granularity{config.GranularityFull, config.GranularityDigest, config.GranularitySummary}
	case config.GranularityDigest:
		return []config.Granularity{config.GranularityDigest, config.GranularitySummary}
	default:
		return []config.Granularity{config.GranularitySummary}
	}
}

// Render produces the text of a unit at the given granularity. Full is
// verbatim; digest and summary cut at a sentence or word boundary within
// their ceilings.
func Render(text string, granularity config.Granularity) string {
	switch granularity {
	case config.GranularityFull:
		return text
	case config.GranularityDigest:
		return clip(text, digestChars)
	default:
		return clip(text, summaryChars)
	}
}

// clip shortens text to at most limit runes, preferring a sentence boundary
// and falling back to a whitespace boundary.
func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	window := runes[:limit]
	if cut := lastSentenceEnd(window); cut > 0 {
		return strings.TrimSpace(string(window[:cut]))
	}
	if cut := lastSpace(window); cut > 0 {
		return strings.TrimSpace(string(window[:cut]))
	}
	return strings.TrimSpace(string(window))
}

func lastSentenceEnd(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case '.', '!', '?', '。', '！', '？':
			return i + 1
		}
	}
	return 0
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return 0
}
