// Package ingest builds a document's retrieval artifacts: chunks, lexical
// and vector indexes, and semantic groups, published as one unit.
package ingest

import (
	"strings"

	"github.com/docquill/docquill/internal/store"
)

// Page is one page of extracted document text. Extraction itself (PDF, OCR)
// happens upstream; ingest receives the ordered page texts.
type Page struct {
	Number  int
	Content string
}

// ChunkConfig controls the character-window chunker.
type ChunkConfig struct {
	Size    int // window size in runes
	Overlap int // runes shared between consecutive windows
}

// DefaultChunkConfig returns the default chunking window.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Size: 800, Overlap: 80}
}

// pageSpan maps a rune range of the joined document text to a page number.
type pageSpan struct {
	start  int
	end    int
	number int
}

// joinPages concatenates page contents with newlines and records each page's
// rune span in the joined text.
func joinPages(pages []Page) (string, []pageSpan) {
	var b strings.Builder
	spans := make([]pageSpan, 0, len(pages))
	offset := 0
	for i, page := range pages {
		if i > 0 {
			b.WriteString("\n")
			offset++
		}
		runeLen := len([]rune(page.Content))
		spans = append(spans, pageSpan{start: offset, end: offset + runeLen, number: page.Number})
		b.WriteString(page.Content)
		offset += runeLen
	}
	return b.String(), spans
}

// pageAt returns the page number covering the given rune offset. Offsets
// past the last page clamp to it.
func pageAt(spans []pageSpan, offset int) int {
	for _, span := range spans {
		if offset < span.end {
			return span.number
		}
	}
	if len(spans) > 0 {
		return spans[len(spans)-1].number
	}
	return 1
}

// Chunk splits the document's pages into overlapping character windows,
// tracking which pages each chunk spans. Window boundaries prefer whitespace
// so words are not cut mid-token.
func Chunk(docID string, pages []Page, cfg ChunkConfig) []*store.Chunk {
	if cfg.Size <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.Overlap >= cfg.Size {
		cfg.Overlap = cfg.Size / 10
	}

	text, spans := joinPages(pages)
	runes := []rune(text)
	if len(runes) == 0 {
		return []*store.Chunk{}
	}

	var chunks []*store.Chunk
	start := 0
	for start < len(runes) {
		end := start + cfg.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Back off to the nearest whitespace so the window does not
			// cut a word; give up after a short scan.
			cut := end
			for cut > start && cut > end-40 && !isSpace(runes[cut-1]) {
				cut--
			}
			if cut > start && cut > end-40 {
				end = cut
			}
		}

		// Trim surrounding whitespace in rune space so the recorded
		// offsets stay aligned with the stored text.
		textStart, textEnd := start, end
		for textStart < textEnd && isSpace(runes[textStart]) {
			textStart++
		}
		for textEnd > textStart && isSpace(runes[textEnd-1]) {
			textEnd--
		}
		if textStart < textEnd {
			chunks = append(chunks, &store.Chunk{
				DocID:     docID,
				Index:     len(chunks),
				Text:      string(runes[textStart:textEnd]),
				CharStart: textStart,
				CharEnd:   textEnd,
				PageStart: pageAt(spans, textStart),
				PageEnd:   pageAt(spans, textEnd-1),
			})
		}

		if end == len(runes) {
			break
		}
		start = end - cfg.Overlap
	}
	return chunks
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
