package ingest

import "strings"

// LocatePages finds which pages a piece of selected text spans. Text that
// cannot be found returns the default span 1/1 rather than an error, so
// callers always have a renderable page reference.
func LocatePages(pages []Page, text string) (pageStart, pageEnd int) {
	text = strings.TrimSpace(text)
	if text == "" || len(pages) == 0 {
		return 1, 1
	}

	joined, spans := joinPages(pages)
	byteIdx := strings.Index(joined, text)
	if byteIdx < 0 {
		return 1, 1
	}

	runeStart := len([]rune(joined[:byteIdx]))
	runeEnd := runeStart + len([]rune(text)) - 1

	return pageAt(spans, runeStart), pageAt(spans, runeEnd)
}
