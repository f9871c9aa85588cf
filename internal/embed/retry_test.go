package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetryConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	sentinel := errors.New("persistent")
	err := WithRetry(context.Background(), fastRetryConfig(2), func() error {
		attempts++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithRetry(ctx, fastRetryConfig(5), func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryEmbedder_RetriesEmbed(t *testing.T) {
	inner := &flakyEmbedder{failuresLeft: 2}
	r := NewRetryEmbedder(inner, fastRetryConfig(3))

	vec, err := r.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
	assert.Equal(t, 3, inner.attempts)
}

type flakyEmbedder struct {
	failuresLeft int
	attempts     int
}

func (f *flakyEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.attempts++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("transient")
	}
	return []float32{1, 0}, nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vec, err := f.Embed(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = vec
	}
	return out, nil
}

func (f *flakyEmbedder) Dimensions() int                  { return 2 }
func (f *flakyEmbedder) ModelName() string                { return "flaky-v1" }
func (f *flakyEmbedder) Available(_ context.Context) bool { return true }
func (f *flakyEmbedder) Close() error                     { return nil }
