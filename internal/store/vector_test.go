package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "test-embed-v1"

func testEmbeddings() [][]float32 {
	return [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
		{0, 0, 1},
	}
}

func TestVectorIndex_Search(t *testing.T) {
	ctx := context.Background()
	idx, err := BuildVectorIndex(testEmbeddings(), testModel)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(ctx, []float32{1, 0, 0}, testModel, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Chunk 0 is the exact match, chunk 2 the nearest neighbor.
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
	assert.Equal(t, 2, results[1].ChunkIndex)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestVectorIndex_ModelMismatch(t *testing.T) {
	idx, err := BuildVectorIndex(testEmbeddings(), testModel)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	_, err = idx.Search(context.Background(), []float32{1, 0, 0}, "other-model", 2)
	var mismatch ErrModelMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, testModel, mismatch.IndexModel)
	assert.Equal(t, "other-model", mismatch.QueryModel)
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	idx, err := BuildVectorIndex(testEmbeddings(), testModel)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	_, err = idx.Search(context.Background(), []float32{1, 0}, testModel, 2)
	var mismatch ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Got)
}

func TestBuildVectorIndex_RaggedEmbeddings(t *testing.T) {
	_, err := BuildVectorIndex([][]float32{{1, 0}, {1, 0, 0}}, testModel)
	var mismatch ErrDimensionMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestVectorIndex_EmptyIndex(t *testing.T) {
	idx, err := BuildVectorIndex(nil, testModel)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(context.Background(), nil, testModel, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_SaveLoad(t *testing.T) {
	idx, err := BuildVectorIndex(testEmbeddings(), testModel)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "doc-1.hnsw")
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Close())

	loaded, err := LoadVectorIndex(path)
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()

	assert.Equal(t, testModel, loaded.Model())
	assert.Equal(t, 4, loaded.Count())

	results, err := loaded.Search(context.Background(), []float32{0, 0, 1}, testModel, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].ChunkIndex)
}

func TestLoadVectorIndex_Missing(t *testing.T) {
	_, err := LoadVectorIndex(filepath.Join(t.TempDir(), "nope.hnsw"))
	assert.ErrorIs(t, err, ErrNotFound)
}
