package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex holds one embedding per chunk, aligned 1:1 with chunk indices,
// backed by a pure Go HNSW graph. Embeddings from different models must never
// be compared, so the index carries its embedding-model identifier and
// rejects queries tagged with a different one.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[int]
	model  string
	dims   int
	count  int
	closed bool
}

// vectorMetadata is the gob persistence form of everything but the graph.
type vectorMetadata struct {
	Model string
	Dims  int
	Count int
}

// BuildVectorIndex builds the per-document vector index. Embeddings must be
// aligned 1:1 with chunk indices.
func BuildVectorIndex(embeddings [][]float32, model string) (*VectorIndex, error) {
	if model == "" {
		return nil, fmt.Errorf("vector index requires an embedding model identifier")
	}

	var dims int
	for _, emb := range embeddings {
		if dims == 0 {
			dims = len(emb)
		}
		if len(emb) != dims {
			return nil, ErrDimensionMismatch{Expected: dims, Got: len(emb)}
		}
	}

	graph := hnsw.NewGraph[int]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 32
	graph.Ml = 0.25

	for i, emb := range embeddings {
		vec := make([]float32, len(emb))
		copy(vec, emb)
		normalizeVectorInPlace(vec)
		graph.Add(hnsw.MakeNode(i, vec))
	}

	return &VectorIndex{
		graph: graph,
		model: model,
		dims:  dims,
		count: len(embeddings),
	}, nil
}

// Search returns up to k chunks with descending cosine similarity.
// queryModel is the identifier of the model that produced queryEmbedding; a
// mismatch with the index's model is a precondition violation and fails fast.
func (v *VectorIndex) Search(_ context.Context, queryEmbedding []float32, queryModel string, k int) ([]VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, ErrIndexClosed
	}
	if queryModel != v.model {
		return nil, ErrModelMismatch{IndexModel: v.model, QueryModel: queryModel}
	}
	if len(queryEmbedding) != v.dims {
		return nil, ErrDimensionMismatch{Expected: v.dims, Got: len(queryEmbedding)}
	}
	if v.count == 0 || k <= 0 {
		return []VectorResult{}, nil
	}

	query := make([]float32, len(queryEmbedding))
	copy(query, queryEmbedding)
	normalizeVectorInPlace(query)

	nodes := v.graph.Search(query, k)
	results := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		distance := v.graph.Distance(query, node.Value)
		results = append(results, VectorResult{
			ChunkIndex: node.Key,
			Similarity: 1 - distance, // cosine distance is 1 - cosine similarity
		})
	}
	return results, nil
}

// Model returns the embedding-model identifier the index was built with.
func (v *VectorIndex) Model() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.model
}

// Count returns the number of indexed embeddings.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.count
}

// Save persists the graph and its metadata atomically (temp file + rename).
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return ErrIndexClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector index file: %w", err)
	}
	if err := v.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close vector index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename vector index file: %w", err)
	}

	metaPath := path + ".meta"
	tmpMeta := metaPath + ".tmp"
	mf, err := os.Create(tmpMeta)
	if err != nil {
		return fmt.Errorf("create vector metadata file: %w", err)
	}
	meta := vectorMetadata{Model: v.model, Dims: v.dims, Count: v.count}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		_ = mf.Close()
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("encode vector metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("close vector metadata file: %w", err)
	}
	return os.Rename(tmpMeta, metaPath)
}

// LoadVectorIndex reads a persisted vector index. A missing artifact returns
// ErrNotFound.
func LoadVectorIndex(path string) (*VectorIndex, error) {
	mf, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open vector metadata: %w", err)
	}
	var meta vectorMetadata
	decodeErr := gob.NewDecoder(mf).Decode(&meta)
	_ = mf.Close()
	if decodeErr != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", decodeErr)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	defer func() { _ = f.Close() }()

	graph := hnsw.NewGraph[int]()
	graph.Distance = hnsw.CosineDistance
	// coder/hnsw Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}

	return &VectorIndex{
		graph: graph,
		model: meta.Model,
		dims:  meta.Dims,
		count: meta.Count,
	}, nil
}

// Close releases resources.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.graph = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
