package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	a, err := e.Embed(ctx, "quarterly revenue summary")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "quarterly revenue summary")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEmbedder_UnitLength(t *testing.T) {
	ctx := context.Background()
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(ctx, "some document text")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
}

func TestStaticEmbedder_EmptyText(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, StaticDimensions), vec)
}

func TestStaticEmbedder_CJKProducesSignal(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "本文总结了主要发现")
	require.NoError(t, err)

	var nonZero int
	for _, v := range vec {
		if v != 0 {
			nonZero++
		}
	}
	assert.Greater(t, nonZero, 0)
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
