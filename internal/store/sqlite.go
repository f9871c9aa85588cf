package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// MetadataStore persists documents, chunks, and semantic groups in SQLite.
// It is the durable half of the store; lexical and vector indexes live in
// their own per-document artifacts next to it.
type MetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// OpenMetadataStore opens (or creates) the metadata database at path.
func OpenMetadataStore(path string) (*MetadataStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// DSN params may be ignored by modernc.org/sqlite, so set pragmas
	// explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &MetadataStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MetadataStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id              TEXT PRIMARY KEY,
		title           TEXT NOT NULL,
		page_count      INTEGER NOT NULL,
		chunk_count     INTEGER NOT NULL,
		group_count     INTEGER NOT NULL,
		embedding_model TEXT NOT NULL,
		ingested_at     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		doc_id     TEXT NOT NULL,
		chunk_idx  INTEGER NOT NULL,
		content    TEXT NOT NULL,
		char_start INTEGER NOT NULL,
		char_end   INTEGER NOT NULL,
		page_start INTEGER NOT NULL,
		page_end   INTEGER NOT NULL,
		PRIMARY KEY (doc_id, chunk_idx)
	);

	CREATE TABLE IF NOT EXISTS groups (
		id            TEXT NOT NULL,
		doc_id        TEXT NOT NULL,
		chunk_indices TEXT NOT NULL,
		content       TEXT NOT NULL,
		char_count    INTEGER NOT NULL,
		PRIMARY KEY (doc_id, id)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize metadata schema: %w", err)
	}
	return nil
}

// SaveDocument stores a document with its chunks and groups in one
// transaction, replacing any prior rows for the same document ID.
func (s *MetadataStore) SaveDocument(ctx context.Context, doc Document, chunks []*Chunk, groups []*SemanticGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrIndexClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM chunks WHERE doc_id = ?",
		"DELETE FROM groups WHERE doc_id = ?",
		"DELETE FROM documents WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, doc.ID); err != nil {
			return fmt.Errorf("clear previous rows: %w", err)
		}
	}

	ingestedAt := doc.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, page_count, chunk_count, group_count, embedding_model, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.PageCount, len(chunks), len(groups), doc.EmbeddingModel,
		ingestedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (doc_id, chunk_idx, content, char_start, char_end, page_start, page_end)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer func() { _ = chunkStmt.Close() }()

	for _, chunk := range chunks {
		_, err := chunkStmt.ExecContext(ctx,
			doc.ID, chunk.Index, chunk.Text,
			chunk.CharStart, chunk.CharEnd, chunk.PageStart, chunk.PageEnd)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
	}

	groupStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO groups (id, doc_id, chunk_indices, content, char_count)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare group insert: %w", err)
	}
	defer func() { _ = groupStmt.Close() }()

	for _, group := range groups {
		indices, err := json.Marshal(group.ChunkIndices)
		if err != nil {
			return fmt.Errorf("encode group indices: %w", err)
		}
		_, err = groupStmt.ExecContext(ctx,
			group.ID, doc.ID, string(indices), group.Text, group.CharCount)
		if err != nil {
			return fmt.Errorf("insert group %s: %w", group.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document: %w", err)
	}
	return nil
}

// GetDocument returns document metadata by ID, or ErrNotFound.
func (s *MetadataStore) GetDocument(ctx context.Context, docID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Document{}, ErrIndexClosed
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, page_count, chunk_count, group_count, embedding_model, ingested_at
		 FROM documents WHERE id = ?`, docID)
	return scanDocument(row)
}

// ListDocuments returns all documents ordered by ingestion time, newest first.
func (s *MetadataStore) ListDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrIndexClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, page_count, chunk_count, group_count, embedding_model, ingested_at
		 FROM documents ORDER BY ingested_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// GetChunks returns all chunks of a document ordered by chunk index.
// A document with no chunks is indistinguishable from an unknown document,
// so an empty result for an unknown ID is reported as ErrNotFound.
func (s *MetadataStore) GetChunks(ctx context.Context, docID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrIndexClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_idx, content, char_start, char_end, page_start, page_end
		 FROM chunks WHERE doc_id = ? ORDER BY chunk_idx`, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*Chunk
	for rows.Next() {
		chunk := &Chunk{DocID: docID}
		if err := rows.Scan(&chunk.Index, &chunk.Text,
			&chunk.CharStart, &chunk.CharEnd, &chunk.PageStart, &chunk.PageEnd); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrNotFound
	}
	return chunks, nil
}

// GetGroups returns all semantic groups of a document. A document indexed
// without groups returns an empty slice, not an error.
func (s *MetadataStore) GetGroups(ctx context.Context, docID string) ([]*SemanticGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrIndexClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chunk_indices, content, char_count
		 FROM groups WHERE doc_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	groups := []*SemanticGroup{}
	for rows.Next() {
		group := &SemanticGroup{DocID: docID}
		var indices string
		if err := rows.Scan(&group.ID, &indices, &group.Text, &group.CharCount); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		if err := json.Unmarshal([]byte(indices), &group.ChunkIndices); err != nil {
			return nil, fmt.Errorf("decode group indices: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// DeleteDocument removes a document and all its rows. Deleting an unknown
// document returns ErrNotFound.
func (s *MetadataStore) DeleteDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrIndexClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", docID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	for _, stmt := range []string{
		"DELETE FROM chunks WHERE doc_id = ?",
		"DELETE FROM groups WHERE doc_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, docID); err != nil {
			return fmt.Errorf("delete document rows: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *MetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var ingestedAt string
	err := row.Scan(&doc.ID, &doc.Title, &doc.PageCount, &doc.ChunkCount,
		&doc.GroupCount, &doc.EmbeddingModel, &ingestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	if t, parseErr := time.Parse(time.RFC3339, ingestedAt); parseErr == nil {
		doc.IngestedAt = t
	}
	return doc, nil
}
