package store

import (
	"context"
	"sync"
)

// Catalog caches the full document listing in front of the metadata store.
// Listing is the hot path for status output and index resolution; writes are
// rare, so the cache is simply invalidated on every mutation.
type Catalog struct {
	mu    sync.Mutex
	meta  *MetadataStore
	docs  []Document
	valid bool
}

// NewCatalog wraps a metadata store with a listing cache.
func NewCatalog(meta *MetadataStore) *Catalog {
	return &Catalog{meta: meta}
}

// List returns all documents, newest first. Callers receive a copy and may
// mutate it freely.
func (c *Catalog) List(ctx context.Context) ([]Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		docs, err := c.meta.ListDocuments(ctx)
		if err != nil {
			return nil, err
		}
		c.docs = docs
		c.valid = true
	}

	out := make([]Document, len(c.docs))
	copy(out, c.docs)
	return out, nil
}

// Get returns a single document by ID, served from the cached listing when
// possible.
func (c *Catalog) Get(ctx context.Context, docID string) (Document, error) {
	docs, err := c.List(ctx)
	if err != nil {
		return Document{}, err
	}
	for _, doc := range docs {
		if doc.ID == docID {
			return doc, nil
		}
	}
	return Document{}, ErrNotFound
}

// Save writes a document through to the metadata store and invalidates the
// cached listing.
func (c *Catalog) Save(ctx context.Context, doc Document, chunks []*Chunk, groups []*SemanticGroup) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.meta.SaveDocument(ctx, doc, chunks, groups); err != nil {
		return err
	}
	c.valid = false
	c.docs = nil
	return nil
}

// Delete removes a document and invalidates the cached listing.
func (c *Catalog) Delete(ctx context.Context, docID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.meta.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	c.valid = false
	c.docs = nil
	return nil
}

// Invalidate drops the cached listing. The next List reads from the store.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.docs = nil
	c.mu.Unlock()
}
