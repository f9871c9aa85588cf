package embed

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures exponential-backoff retries for embedding requests.
type RetryConfig struct {
	MaxRetries   int           // retry attempts, not counting the initial one
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on the backoff delay
	Multiplier   float64       // backoff growth factor
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry executes fn with exponential backoff. Context cancellation stops
// the loop immediately, both before an attempt and during a backoff wait.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err
			if attempt >= cfg.MaxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// RetryEmbedder wraps an Embedder so transient failures are retried with
// backoff before surfacing to the caller.
type RetryEmbedder struct {
	inner Embedder
	cfg   RetryConfig
}

// NewRetryEmbedder wraps inner with the given retry configuration.
func NewRetryEmbedder(inner Embedder, cfg RetryConfig) *RetryEmbedder {
	return &RetryEmbedder{inner: inner, cfg: cfg}
}

// Embed retries the inner single-text embedding.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := WithRetry(ctx, r.cfg, func() error {
		var innerErr error
		vec, innerErr = r.inner.Embed(ctx, text)
		return innerErr
	})
	return vec, err
}

// EmbedBatch retries the inner batch embedding.
func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := WithRetry(ctx, r.cfg, func() error {
		var innerErr error
		vecs, innerErr = r.inner.EmbedBatch(ctx, texts)
		return innerErr
	})
	return vecs, err
}

// Dimensions returns the inner embedder's dimension.
func (r *RetryEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (r *RetryEmbedder) ModelName() string { return r.inner.ModelName() }

// Available reports the inner embedder's availability.
func (r *RetryEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

// Close closes the inner embedder.
func (r *RetryEmbedder) Close() error { return r.inner.Close() }
