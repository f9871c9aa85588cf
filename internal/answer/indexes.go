package answer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/docquill/docquill/internal/config"
	"github.com/docquill/docquill/internal/store"
)

// openIndexes holds a document's opened search artifacts. Either index may
// be nil when its artifact is missing; the pipeline degrades accordingly.
type openIndexes struct {
	lexical store.LexicalIndex
	vector  *store.VectorIndex
}

// indexCache opens per-document index artifacts once and reuses them across
// queries. Artifacts are immutable after publish, so entries only need
// invalidation on re-ingest.
type indexCache struct {
	mu      sync.Mutex
	cfg     *config.Config
	entries map[string]*openIndexes
}

func newIndexCache(cfg *config.Config) *indexCache {
	return &indexCache{
		cfg:     cfg,
		entries: make(map[string]*openIndexes),
	}
}

func (c *indexCache) basePath(docID string) string {
	return filepath.Join(c.cfg.Paths.DataDir, "indexes", docID)
}

// open returns the document's indexes, loading missing artifacts as nil
// rather than failing: absence triggers the INDEX_MISSING degradation, it is
// not an error.
func (c *indexCache) open(ctx context.Context, docID string) (*openIndexes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[docID]; ok {
		return entry, nil
	}

	entry := &openIndexes{}

	lexical, err := store.OpenLexicalIndex(ctx, c.cfg.Retrieval.LexicalBackend, c.basePath(docID), docID)
	switch {
	case err == nil:
		entry.lexical = lexical
	case errors.Is(err, store.ErrNotFound):
		// degrade
	default:
		return nil, err
	}

	vector, err := store.LoadVectorIndex(c.basePath(docID) + ".hnsw")
	switch {
	case err == nil:
		entry.vector = vector
	case errors.Is(err, store.ErrNotFound):
		// degrade
	default:
		if entry.lexical != nil {
			_ = entry.lexical.Close()
		}
		return nil, err
	}

	c.entries[docID] = entry
	return entry, nil
}

// invalidate drops a cached entry, closing its indexes.
func (c *indexCache) invalidate(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[docID]; ok {
		if entry.lexical != nil {
			_ = entry.lexical.Close()
		}
		if entry.vector != nil {
			_ = entry.vector.Close()
		}
		delete(c.entries, docID)
	}
}

// closeAll tears down every cached entry.
func (c *indexCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for docID, entry := range c.entries {
		if entry.lexical != nil {
			_ = entry.lexical.Close()
		}
		if entry.vector != nil {
			_ = entry.vector.Close()
		}
		delete(c.entries, docID)
	}
}
