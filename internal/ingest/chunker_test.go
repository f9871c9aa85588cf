package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_SplitsWithOverlap(t *testing.T) {
	pages := []Page{{Number: 1, Content: strings.Repeat("lorem ipsum dolor sit amet ", 100)}}
	chunks := Chunk("doc-1", pages, ChunkConfig{Size: 500, Overlap: 50})

	require.Greater(t, len(chunks), 2)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, "doc-1", chunk.DocID)
		assert.NotEmpty(t, chunk.Text)
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 500)
	}
	// Consecutive windows share text.
	assert.Less(t, chunks[1].CharStart, chunks[0].CharEnd)
}

func TestChunk_TracksPages(t *testing.T) {
	pages := []Page{
		{Number: 1, Content: strings.Repeat("a", 300)},
		{Number: 2, Content: strings.Repeat("b", 300)},
		{Number: 3, Content: strings.Repeat("c", 300)},
	}
	chunks := Chunk("doc-1", pages, ChunkConfig{Size: 400, Overlap: 0})

	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].PageStart)
	// A window crossing the page boundary reports both pages.
	assert.GreaterOrEqual(t, chunks[0].PageEnd, chunks[0].PageStart)
	last := chunks[len(chunks)-1]
	assert.Equal(t, 3, last.PageEnd)
}

func TestChunk_OffsetsMatchStoredText(t *testing.T) {
	// Windows that land on whitespace get trimmed; the recorded offsets
	// must still slice the joined text back to the exact chunk text.
	pages := []Page{
		{Number: 1, Content: "  leading space " + strings.Repeat("word ", 60)},
		{Number: 2, Content: strings.Repeat("tail ", 40) + "   "},
	}
	joined, _ := joinPages(pages)
	runes := []rune(joined)

	chunks := Chunk("doc-1", pages, ChunkConfig{Size: 100, Overlap: 10})
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.Equal(t, chunk.Text, string(runes[chunk.CharStart:chunk.CharEnd]))
	}
}

func TestChunk_Empty(t *testing.T) {
	assert.Empty(t, Chunk("doc-1", nil, DefaultChunkConfig()))
	assert.Empty(t, Chunk("doc-1", []Page{{Number: 1, Content: ""}}, DefaultChunkConfig()))
}

func TestChunk_ShortDocumentSingleChunk(t *testing.T) {
	chunks := Chunk("doc-1", []Page{{Number: 1, Content: "short document"}}, DefaultChunkConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, "short document", chunks[0].Text)
	assert.Equal(t, 1, chunks[0].PageStart)
	assert.Equal(t, 1, chunks[0].PageEnd)
}

func TestLocatePages(t *testing.T) {
	pages := []Page{
		{Number: 1, Content: "A B C"},
		{Number: 2, Content: "D E F"},
	}

	t.Run("text on first page", func(t *testing.T) {
		start, end := LocatePages(pages, "C")
		assert.Equal(t, 1, start)
		assert.Equal(t, 1, end)
	})

	t.Run("text on second page", func(t *testing.T) {
		start, end := LocatePages(pages, "E F")
		assert.Equal(t, 2, start)
		assert.Equal(t, 2, end)
	})

	t.Run("text spanning pages", func(t *testing.T) {
		start, end := LocatePages(pages, "C\nD")
		assert.Equal(t, 1, start)
		assert.Equal(t, 2, end)
	})

	t.Run("unmatched text defaults to 1 1", func(t *testing.T) {
		start, end := LocatePages(pages, "ZZZ")
		assert.Equal(t, 1, start)
		assert.Equal(t, 1, end)
	})

	t.Run("empty text defaults to 1 1", func(t *testing.T) {
		start, end := LocatePages(pages, "  ")
		assert.Equal(t, 1, start)
		assert.Equal(t, 1, end)
	})
}
