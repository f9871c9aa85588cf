package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/docquill/docquill/internal/config"
	"github.com/docquill/docquill/internal/embed"
	"github.com/docquill/docquill/internal/group"
	"github.com/docquill/docquill/internal/store"
)

// Pipeline ingests documents: chunking, parallel index builds, grouping, and
// a single atomic publish of the per-document record. Re-ingesting a
// document replaces its record wholesale.
type Pipeline struct {
	cfg      *config.Config
	catalog  *store.Catalog
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewPipeline creates an ingest pipeline.
func NewPipeline(cfg *config.Config, catalog *store.Catalog, embedder embed.Embedder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		catalog:  catalog,
		embedder: embedder,
		logger:   logger,
	}
}

// indexBasePath returns the artifact path prefix for a document.
func (p *Pipeline) indexBasePath(docID string) string {
	return filepath.Join(p.cfg.Paths.DataDir, "indexes", docID)
}

// Ingest builds and publishes all retrieval artifacts for a document. The
// lexical and vector builds run in parallel; nothing is visible to queries
// until the final metadata save publishes the record.
func (p *Pipeline) Ingest(ctx context.Context, docID, title string, pages []Page) (store.Document, error) {
	if docID == "" {
		return store.Document{}, fmt.Errorf("document id is required")
	}

	indexDir := filepath.Join(p.cfg.Paths.DataDir, "indexes")
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return store.Document{}, fmt.Errorf("create index directory: %w", err)
	}

	// Cross-process guard: two ingests of the same document must not
	// interleave their artifact writes.
	lock := flock.New(p.indexBasePath(docID) + ".lock")
	locked, err := lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return store.Document{}, fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !locked {
		return store.Document{}, fmt.Errorf("document %s is being ingested by another process", docID)
	}
	defer func() { _ = lock.Unlock() }()

	start := time.Now()
	chunks := Chunk(docID, pages, ChunkConfig{
		Size:    p.cfg.Retrieval.ChunkSize,
		Overlap: p.cfg.Retrieval.ChunkOverlap,
	})
	if len(chunks) == 0 {
		return store.Document{}, fmt.Errorf("document %s produced no chunks", docID)
	}

	basePath := p.indexBasePath(docID)
	bm25Cfg := store.BM25Config{K1: p.cfg.Retrieval.K1, B: p.cfg.Retrieval.B}

	// Lexical and vector builds are independent.
	var lexical store.LexicalIndex
	var vector *store.VectorIndex

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		idx, err := store.BuildLexicalIndex(gctx, p.cfg.Retrieval.LexicalBackend, basePath, docID, chunks, bm25Cfg)
		if err != nil {
			return fmt.Errorf("build lexical index: %w", err)
		}
		lexical = idx
		return nil
	})
	g.Go(func() error {
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Text
		}
		embeddings, err := p.embedder.EmbedBatch(gctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		idx, err := store.BuildVectorIndex(embeddings, p.embedder.ModelName())
		if err != nil {
			return fmt.Errorf("build vector index: %w", err)
		}
		if err := idx.Save(basePath + ".hnsw"); err != nil {
			return fmt.Errorf("save vector index: %w", err)
		}
		vector = idx
		return nil
	})
	if err := g.Wait(); err != nil {
		return store.Document{}, err
	}
	defer func() { _ = lexical.Close() }()
	defer func() { _ = vector.Close() }()

	var groups []*store.SemanticGroup
	if p.cfg.Groups.Enabled {
		groups = group.Build(docID, chunks, group.Config{
			TargetChars: p.cfg.Groups.TargetChars,
			MinChars:    p.cfg.Groups.MinChars,
			MaxChars:    p.cfg.Groups.MaxChars,
		})
	}

	doc := store.Document{
		ID:             docID,
		Title:          title,
		PageCount:      len(pages),
		ChunkCount:     len(chunks),
		GroupCount:     len(groups),
		EmbeddingModel: p.embedder.ModelName(),
		IngestedAt:     time.Now().UTC(),
	}

	// The metadata save is the publish point: queries resolve documents
	// through the catalog, so artifacts written above stay invisible until
	// this succeeds.
	if err := p.catalog.Save(ctx, doc, chunks, groups); err != nil {
		return store.Document{}, fmt.Errorf("publish document record: %w", err)
	}

	p.logger.Info("document_ingested",
		"doc_id", docID,
		"pages", len(pages),
		"chunks", len(chunks),
		"groups", len(groups),
		"embedding_model", doc.EmbeddingModel,
		"duration", time.Since(start))
	return doc, nil
}

// Delete removes a document's record and its index artifacts.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	if err := p.catalog.Delete(ctx, docID); err != nil {
		return err
	}
	basePath := p.indexBasePath(docID)
	for _, suffix := range []string{".bm25", ".db", ".hnsw", ".hnsw.meta", ".lock"} {
		_ = os.Remove(basePath + suffix)
	}
	return nil
}
