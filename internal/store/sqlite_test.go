package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadataStore(t *testing.T) *MetadataStore {
	t.Helper()
	s, err := OpenMetadataStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDocument() (Document, []*Chunk, []*SemanticGroup) {
	doc := Document{
		ID:             "doc-1",
		Title:          "Annual Report",
		PageCount:      3,
		EmbeddingModel: testModel,
		IngestedAt:     time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}
	chunks := []*Chunk{
		{DocID: "doc-1", Index: 0, Text: "first chunk", CharStart: 0, CharEnd: 11, PageStart: 1, PageEnd: 1},
		{DocID: "doc-1", Index: 1, Text: "second chunk", CharStart: 11, CharEnd: 23, PageStart: 1, PageEnd: 2},
	}
	groups := []*SemanticGroup{
		{ID: "g0", DocID: "doc-1", ChunkIndices: []int{0, 1}, Text: "first chunk second chunk", CharCount: 24},
	}
	return doc, chunks, groups
}

func TestMetadataStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)
	doc, chunks, groups := sampleDocument()

	require.NoError(t, s.SaveDocument(ctx, doc, chunks, groups))

	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Annual Report", got.Title)
	assert.Equal(t, 2, got.ChunkCount)
	assert.Equal(t, 1, got.GroupCount)
	assert.Equal(t, testModel, got.EmbeddingModel)
	assert.Equal(t, doc.IngestedAt, got.IngestedAt)

	gotChunks, err := s.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, gotChunks, 2)
	assert.Equal(t, "first chunk", gotChunks[0].Text)
	assert.Equal(t, 2, gotChunks[1].PageEnd)

	gotGroups, err := s.GetGroups(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, gotGroups, 1)
	assert.Equal(t, []int{0, 1}, gotGroups[0].ChunkIndices)
}

func TestMetadataStore_SaveReplacesPriorRows(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)
	doc, chunks, groups := sampleDocument()
	require.NoError(t, s.SaveDocument(ctx, doc, chunks, groups))

	// Re-ingest with one chunk and no groups.
	require.NoError(t, s.SaveDocument(ctx, doc, chunks[:1], nil))

	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, 0, got.GroupCount)

	gotGroups, err := s.GetGroups(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, gotGroups)
}

func TestMetadataStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)

	_, err := s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetChunks(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.DeleteDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetadataStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)
	doc, chunks, groups := sampleDocument()
	require.NoError(t, s.SaveDocument(ctx, doc, chunks, groups))

	require.NoError(t, s.DeleteDocument(ctx, "doc-1"))

	_, err := s.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetChunks(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_CachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	s := newTestMetadataStore(t)
	catalog := NewCatalog(s)

	docs, err := catalog.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)

	doc, chunks, groups := sampleDocument()
	require.NoError(t, catalog.Save(ctx, doc, chunks, groups))

	docs, err = catalog.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)

	// Mutating the returned slice must not corrupt the cache.
	docs[0].Title = "mutated"
	again, err := catalog.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Annual Report", again[0].Title)

	got, err := catalog.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)

	_, err = catalog.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, catalog.Delete(ctx, "doc-1"))
	docs, err = catalog.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
