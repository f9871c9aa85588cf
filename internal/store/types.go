// Package store provides the per-document retrieval indexes (lexical BM25 and
// vector) and the SQLite metadata persistence layer.
//
// Indexes are owned by the document they describe: they are built once at
// ingest, published as a whole, and rebuilt wholesale on re-ingest. A query
// either observes a fully built index or none at all.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. ErrNotFound distinguishes a genuinely absent artifact from
// a retrieval failure; callers fall back on the former and surface the latter.
var (
	ErrNotFound    = errors.New("not found")
	ErrIndexClosed = errors.New("index is closed")
)

// ErrModelMismatch indicates a query embedding produced by a different model
// than the one the index was built with. Comparing such embeddings yields
// nonsense scores, so this is a fail-fast precondition violation.
type ErrModelMismatch struct {
	IndexModel string
	QueryModel string
}

func (e ErrModelMismatch) Error() string {
	return fmt.Sprintf("embedding model mismatch: index built with %q, query embedded with %q",
		e.IndexModel, e.QueryModel)
}

// ErrDimensionMismatch indicates a vector of the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Chunk is the retrievable unit of a document. Immutable once created at
// ingest time.
type Chunk struct {
	DocID     string `json:"doc_id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
}

// SemanticGroup aggregates adjacent chunks into a size-bounded unit to reduce
// retrieval fragmentation. Groups partition a document's chunks in order with
// no gaps and no overlap.
type SemanticGroup struct {
	ID           string `json:"id"`
	DocID        string `json:"doc_id"`
	ChunkIndices []int  `json:"chunk_indices"`
	Text         string `json:"text"`
	CharCount    int    `json:"char_count"`
}

// Document is the metadata record for an ingested document.
type Document struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	PageCount      int       `json:"page_count"`
	ChunkCount     int       `json:"chunk_count"`
	GroupCount     int       `json:"group_count"`
	EmbeddingModel string    `json:"embedding_model"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// LexicalResult is one BM25 hit.
type LexicalResult struct {
	ChunkIndex int
	Score      float64
}

// VectorResult is one nearest-neighbor hit.
type VectorResult struct {
	ChunkIndex int
	Similarity float32
}

// LexicalIndex ranks a document's chunks by BM25 term overlap.
type LexicalIndex interface {
	// Search returns up to k chunks ranked by descending BM25 score, ties
	// broken by lower chunk index. Empty query or empty index yields an
	// empty result, not an error.
	Search(ctx context.Context, query string, k int) ([]LexicalResult, error)

	// Len returns the number of indexed chunks.
	Len() int

	// Save persists the index artifact for its document.
	Save(path string) error

	// Close releases resources.
	Close() error
}

// BM25Config holds the BM25 scoring parameters. The defaults are the
// conventional values; both are configuration, not hidden constants.
type BM25Config struct {
	K1 float64
	B  float64
}

// DefaultBM25Config returns the conventional BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.5, B: 0.75}
}

// DocumentIndexes bundles everything retrievable for one document. Built as a
// unit at ingest and published once; queries never observe a partial bundle.
type DocumentIndexes struct {
	Doc     *Document
	Chunks  []*Chunk
	Groups  []*SemanticGroup
	Lexical LexicalIndex
	Vector  *VectorIndex
}
