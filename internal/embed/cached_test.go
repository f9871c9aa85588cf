package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records how many texts reach the inner embedder.
type countingEmbedder struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("embed failed")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int                    { return 2 }
func (c *countingEmbedder) ModelName() string                  { return "counting-v1" }
func (c *countingEmbedder) Available(_ context.Context) bool   { return true }
func (c *countingEmbedder) Close() error                       { return nil }

func TestCachedEmbedder_HitsSkipInner(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()

	first, err := cached.Embed(ctx, "same query")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "same query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEmbedder_BatchOnlySendsMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()

	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{fail: true}
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()

	_, err := cached.Embed(ctx, "query")
	require.Error(t, err)

	inner.fail = false
	vec, err := cached.Embed(ctx, "query")
	require.NoError(t, err)
	assert.NotNil(t, vec)
}
