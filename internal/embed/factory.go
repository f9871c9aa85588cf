package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docquill/docquill/internal/config"
)

// New builds the configured embedder, wrapped with retries and an LRU cache.
// An unreachable ollama provider falls back to the static embedder so ingest
// and querying keep working offline, at reduced quality.
func New(ctx context.Context, cfg config.EmbeddingsConfig, logger *slog.Logger) (Embedder, error) {
	var inner Embedder

	switch cfg.Provider {
	case "static":
		inner = NewStaticEmbedder()
	case "ollama", "":
		ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:  cfg.Host,
			Model: cfg.Model,
		})
		if err != nil {
			logger.Warn("embedding provider unreachable, using static fallback",
				"provider", "ollama",
				"model", cfg.Model,
				"error", err)
			inner = NewStaticEmbedder()
		} else {
			inner = NewRetryEmbedder(ollama, DefaultRetryConfig())
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
