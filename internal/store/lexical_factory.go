package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// LexicalBackend selects the lexical index implementation.
type LexicalBackend string

const (
	// LexicalBackendMemory is the default in-memory BM25 index with exact
	// tokenization and tie-break semantics, persisted as a gob snapshot.
	LexicalBackendMemory LexicalBackend = "memory"

	// LexicalBackendSQLite uses SQLite FTS5. Concurrent multi-process access
	// via WAL mode.
	LexicalBackendSQLite LexicalBackend = "sqlite"
)

// BuildLexicalIndex builds a lexical index for one document using the given
// backend. basePath is the artifact path without extension.
func BuildLexicalIndex(ctx context.Context, backend, basePath, docID string, chunks []*Chunk, cfg BM25Config) (LexicalIndex, error) {
	switch LexicalBackend(backend) {
	case LexicalBackendMemory, "":
		idx := BuildMemoryLexicalIndex(chunks, cfg)
		if basePath != "" {
			if err := idx.Save(basePath + ".bm25"); err != nil {
				return nil, fmt.Errorf("save lexical index: %w", err)
			}
		}
		return idx, nil

	case LexicalBackendSQLite:
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return BuildSQLiteLexicalIndex(ctx, path, docID, chunks)

	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: memory, sqlite)", backend)
	}
}

// OpenLexicalIndex opens a previously built lexical index. Returns ErrNotFound
// when no artifact exists for the document, which callers treat as the
// INDEX_MISSING fallback rather than an error.
func OpenLexicalIndex(ctx context.Context, backend, basePath, docID string) (LexicalIndex, error) {
	switch LexicalBackend(backend) {
	case LexicalBackendMemory, "":
		return LoadMemoryLexicalIndex(basePath + ".bm25")

	case LexicalBackendSQLite:
		return openSQLiteLexicalIndex(ctx, basePath+".db", docID)

	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: memory, sqlite)", backend)
	}
}

// openSQLiteLexicalIndex opens an existing FTS5 index file.
func openSQLiteLexicalIndex(ctx context.Context, path, docID string) (*SQLiteLexicalIndex, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrNotFound
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open lexical database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragma: %w", err)
	}

	var count int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fts_chunks WHERE doc_id = ?`, docID).Scan(&count)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("count indexed chunks: %w", err)
	}
	if count == 0 {
		_ = db.Close()
		return nil, ErrNotFound
	}

	return &SQLiteLexicalIndex{db: db, path: path, docID: docID, count: count}, nil
}
