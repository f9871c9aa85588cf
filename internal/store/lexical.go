package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// posting records one chunk's term frequency for a term.
type posting struct {
	ChunkIndex int
	TF         int
}

// MemoryLexicalIndex is the default in-memory BM25 index over one document's
// chunks. Read-only after Build; rebuilt wholesale on re-ingest.
type MemoryLexicalIndex struct {
	mu     sync.RWMutex
	config BM25Config
	closed bool

	postings map[string][]posting
	docLens  []int
	avgLen   float64
}

// lexicalSnapshot is the gob persistence form of the index.
type lexicalSnapshot struct {
	Config   BM25Config
	Postings map[string][]posting
	DocLens  []int
	AvgLen   float64
}

// BuildMemoryLexicalIndex builds a BM25 index over the document's chunks.
func BuildMemoryLexicalIndex(chunks []*Chunk, cfg BM25Config) *MemoryLexicalIndex {
	if cfg.K1 <= 0 {
		cfg = DefaultBM25Config()
	}

	idx := &MemoryLexicalIndex{
		config:   cfg,
		postings: make(map[string][]posting),
		docLens:  make([]int, len(chunks)),
	}

	var totalLen int
	for i, c := range chunks {
		tokens := Tokenize(c.Text)
		idx.docLens[i] = len(tokens)
		totalLen += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for term, count := range tf {
			idx.postings[term] = append(idx.postings[term], posting{ChunkIndex: i, TF: count})
		}
	}
	if len(chunks) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(chunks))
	}

	return idx
}

// Search returns up to k chunks ranked by BM25 score descending, ties broken
// by lower chunk index (stable document order).
func (idx *MemoryLexicalIndex) Search(_ context.Context, query string, k int) ([]LexicalResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, ErrIndexClosed
	}
	if strings.TrimSpace(query) == "" || len(idx.docLens) == 0 || k <= 0 {
		return []LexicalResult{}, nil
	}

	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return []LexicalResult{}, nil
	}

	n := float64(len(idx.docLens))
	scores := make(map[int]float64)

	for _, term := range queryTokens {
		plist, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := float64(len(plist))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)

		for _, p := range plist {
			tf := float64(p.TF)
			dl := float64(idx.docLens[p.ChunkIndex])
			norm := idx.config.K1 * (1 - idx.config.B + idx.config.B*dl/idx.avgLen)
			scores[p.ChunkIndex] += idf * (tf * (idx.config.K1 + 1)) / (tf + norm)
		}
	}

	results := make([]LexicalResult, 0, len(scores))
	for chunkIdx, score := range scores {
		results = append(results, LexicalResult{ChunkIndex: chunkIdx, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of indexed chunks.
func (idx *MemoryLexicalIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLens)
}

// Save persists the index atomically (temp file + rename).
func (idx *MemoryLexicalIndex) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return ErrIndexClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	snap := lexicalSnapshot{
		Config:   idx.config,
		Postings: idx.postings,
		DocLens:  idx.docLens,
		AvgLen:   idx.avgLen,
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode lexical index: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// LoadMemoryLexicalIndex reads a persisted index. A missing file returns
// ErrNotFound so callers can distinguish absence from corruption.
func LoadMemoryLexicalIndex(path string) (*MemoryLexicalIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	defer func() { _ = f.Close() }()

	var snap lexicalSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode lexical index: %w", err)
	}

	return &MemoryLexicalIndex{
		config:   snap.Config,
		postings: snap.Postings,
		docLens:  snap.DocLens,
		avgLen:   snap.AvgLen,
	}, nil
}

// Close releases resources.
func (idx *MemoryLexicalIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	idx.postings = nil
	return nil
}

var _ LexicalIndex = (*MemoryLexicalIndex)(nil)
