package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunks(texts ...string) []*Chunk {
	chunks := make([]*Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &Chunk{DocID: "doc-1", Index: i, Text: text}
	}
	return chunks
}

func TestMemoryLexicalIndex_Search(t *testing.T) {
	ctx := context.Background()
	chunks := testChunks(
		"the quick brown fox jumps over the lazy dog",
		"machine learning systems require training data",
		"deep learning is a subset of machine learning",
		"the dog barked at the fox",
	)
	idx := BuildMemoryLexicalIndex(chunks, DefaultBM25Config())
	defer func() { _ = idx.Close() }()

	t.Run("relevant chunks ranked first", func(t *testing.T) {
		results, err := idx.Search(ctx, "machine learning", 4)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		// Chunk 2 mentions both terms twice, chunk 1 once each.
		assert.Equal(t, 2, results[0].ChunkIndex)
		assert.Equal(t, 1, results[1].ChunkIndex)
	})

	t.Run("scores descend", func(t *testing.T) {
		results, err := idx.Search(ctx, "fox dog", 4)
		require.NoError(t, err)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("k limits result count", func(t *testing.T) {
		results, err := idx.Search(ctx, "the", 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("empty query returns no results", func(t *testing.T) {
		results, err := idx.Search(ctx, "   ", 4)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("no matching terms returns no results", func(t *testing.T) {
		results, err := idx.Search(ctx, "zeppelin", 4)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestMemoryLexicalIndex_TieBreakByChunkIndex(t *testing.T) {
	ctx := context.Background()
	// Identical chunks score identically; order must fall back to index.
	chunks := testChunks(
		"alpha beta gamma",
		"alpha beta gamma",
		"alpha beta gamma",
	)
	idx := BuildMemoryLexicalIndex(chunks, DefaultBM25Config())
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(ctx, "alpha", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{
		results[0].ChunkIndex, results[1].ChunkIndex, results[2].ChunkIndex,
	})
}

func TestMemoryLexicalIndex_CJKQuery(t *testing.T) {
	ctx := context.Background()
	chunks := testChunks(
		"本章总结了主要发现",
		"introduction and background",
	)
	idx := BuildMemoryLexicalIndex(chunks, DefaultBM25Config())
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(ctx, "总结", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 0, results[0].ChunkIndex)
}

func TestMemoryLexicalIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	chunks := testChunks(
		"persistence survives restarts",
		"unrelated filler content",
	)
	idx := BuildMemoryLexicalIndex(chunks, DefaultBM25Config())

	path := filepath.Join(t.TempDir(), "doc-1.bm25")
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Close())

	loaded, err := LoadMemoryLexicalIndex(path)
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()

	assert.Equal(t, 2, loaded.Len())
	results, err := loaded.Search(ctx, "persistence", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 0, results[0].ChunkIndex)
}

func TestLoadMemoryLexicalIndex_Missing(t *testing.T) {
	_, err := LoadMemoryLexicalIndex(filepath.Join(t.TempDir(), "nope.bm25"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLexicalIndex_Closed(t *testing.T) {
	idx := BuildMemoryLexicalIndex(testChunks("one"), DefaultBM25Config())
	require.NoError(t, idx.Close())

	_, err := idx.Search(context.Background(), "one", 1)
	assert.ErrorIs(t, err, ErrIndexClosed)
}
