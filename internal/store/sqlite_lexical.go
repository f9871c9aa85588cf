package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteLexicalIndex implements LexicalIndex on SQLite FTS5. It supports
// concurrent multi-process access via WAL mode, at the cost of FTS5's own
// unicode61 tokenizer replacing the exact in-memory tokenization rules.
type SQLiteLexicalIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	docID  string
	count  int
	closed bool
}

// BuildSQLiteLexicalIndex creates an FTS5 index for one document's chunks.
// If path is empty, the index lives in memory (testing). Any previous rows
// for the document are replaced wholesale.
func BuildSQLiteLexicalIndex(ctx context.Context, path, docID string, chunks []*Chunk) (*SQLiteLexicalIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open lexical database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		doc_id UNINDEXED,
		chunk_idx UNINDEXED,
		content,
		tokenize='unicode61'
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize FTS5 schema: %w", err)
	}

	idx := &SQLiteLexicalIndex{db: db, path: path, docID: docID, count: len(chunks)}
	if err := idx.rebuild(ctx, chunks); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// rebuild replaces the document's rows. The pre-tokenized content keeps
// scoring consistent with the memory backend for CJK text.
func (s *SQLiteLexicalIndex) rebuild(ctx context.Context, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_chunks WHERE doc_id = ?`, s.docID); err != nil {
		return fmt.Errorf("clear previous rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_chunks(doc_id, chunk_idx, content) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		content := strings.Join(Tokenize(c.Text), " ")
		if _, err := stmt.ExecContext(ctx, s.docID, c.Index, content); err != nil {
			return fmt.Errorf("index chunk %d: %w", c.Index, err)
		}
	}

	return tx.Commit()
}

// Search returns up to k chunks ranked by BM25 score. FTS5's bm25() returns
// negative values where lower is better; the sign is flipped so higher is
// better, matching the memory backend. Ties break by chunk index.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, query string, k int) ([]LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrIndexClosed
	}
	if strings.TrimSpace(query) == "" || k <= 0 {
		return []LexicalResult{}, nil
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return []LexicalResult{}, nil
	}
	// FTS5 AND-matches space-separated terms; OR broadens recall to match the
	// memory backend's any-term scoring.
	matchQuery := strings.Join(tokens, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_idx, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE doc_id = ? AND content MATCH ?
		ORDER BY score, chunk_idx
		LIMIT ?`, s.docID, matchQuery, k)
	if err != nil {
		// FTS5 errors on malformed match syntax; treat as no results.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []LexicalResult{}, nil
		}
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []LexicalResult
	for rows.Next() {
		var chunkIdx int
		var score float64
		if err := rows.Scan(&chunkIdx, &score); err != nil {
			return nil, fmt.Errorf("scan lexical result: %w", err)
		}
		results = append(results, LexicalResult{ChunkIndex: chunkIdx, Score: -score})
	}
	if results == nil {
		results = []LexicalResult{}
	}
	return results, rows.Err()
}

// Len returns the number of indexed chunks.
func (s *SQLiteLexicalIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Save is a no-op: SQLite persists as it writes.
func (s *SQLiteLexicalIndex) Save(string) error {
	return nil
}

// Close closes the underlying database.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)
