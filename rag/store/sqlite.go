package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/graphrag/rag"
)

// SQLiteVectorStore implements rag.VectorStore on SQLite. Embeddings are
// stored as JSON arrays and ranked in process.
type SQLiteVectorStore struct {
	db        *sql.DB
	dimension int
	now       func() time.Time
}

var _ rag.VectorStore = (*SQLiteVectorStore)(nil)

// SQLiteOptions configuration for SQLite connection
type SQLiteOptions struct {
	Path      string
	Dimension int
}

// NewSQLiteVectorStore opens the database and creates the documents table.
func NewSQLiteVectorStore(opts SQLiteOptions) (*SQLiteVectorStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, rag.NewStorageError("connect", fmt.Errorf("unable to open database: %w", err))
	}

	s := &SQLiteVectorStore{
		db:        db,
		dimension: opts.Dimension,
		now:       time.Now,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SQLiteVectorStore) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			embedding TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return rag.NewStorageError("init schema", fmt.Errorf("failed to create schema: %w", err))
	}
	return nil
}

// Begin opens a database transaction.
func (s *SQLiteVectorStore) Begin(ctx context.Context) (rag.VectorTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, rag.NewStorageError("begin", err)
	}
	return &sqliteTx{tx: tx, store: s}, nil
}

// Search scores every embedded document and keeps the best k.
func (s *SQLiteVectorStore) Search(ctx context.Context, embedding []float32, k int, threshold float64) ([]rag.SearchResult, error) {
	if k <= 0 {
		return nil, rag.NewStorageError("search", fmt.Errorf("k must be positive"))
	}
	if err := checkDimension(s.dimension, embedding); err != nil {
		return nil, rag.NewStorageError("search", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, embedding, metadata FROM documents WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, rag.NewStorageError("search", err)
	}
	defer rows.Close()

	results := make([]rag.SearchResult, 0)
	for rows.Next() {
		var (
			doc           rag.Document
			embeddingJSON string
			metadataJSON  string
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &embeddingJSON, &metadataJSON); err != nil {
			return nil, rag.NewStorageError("search", fmt.Errorf("failed to scan row: %w", err))
		}
		var stored []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &stored); err != nil {
			return nil, rag.NewStorageError("search", fmt.Errorf("failed to unmarshal embedding of document %d: %w", doc.ID, err))
		}
		similarity := cosineSimilarity32(embedding, stored)
		if similarity < threshold {
			continue
		}
		if doc.Metadata, err = decodeMetadata([]byte(metadataJSON)); err != nil {
			return nil, rag.NewStorageError("search", err)
		}
		results = append(results, rag.SearchResult{Document: doc, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, rag.NewStorageError("search", err)
	}

	rankResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes a document by id.
func (s *SQLiteVectorStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return rag.NewStorageError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return rag.NewStorageError("delete", err)
	}
	if n == 0 {
		return &rag.NotFoundError{ID: id}
	}
	return nil
}

// Stats aggregates the documents table.
func (s *SQLiteVectorStore) Stats(ctx context.Context) (*rag.Stats, error) {
	var (
		stats       rag.Stats
		first, last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(embedding), COUNT(DISTINCT json_extract(metadata, '$.source')),
			MIN(created_at), MAX(created_at)
		FROM documents`).Scan(
		&stats.TotalDocuments,
		&stats.DocumentsWithEmbeddings,
		&stats.UniqueSources,
		&first,
		&last,
	)
	if err != nil {
		return nil, rag.NewStorageError("stats", err)
	}
	if first.Valid {
		t := time.Unix(0, first.Int64).UTC()
		stats.FirstDocumentDate = &t
	}
	if last.Valid {
		t := time.Unix(0, last.Int64).UTC()
		stats.LastDocumentDate = &t
	}
	return &stats, nil
}

// Clear deletes every document.
func (s *SQLiteVectorStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, rag.NewStorageError("clear", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, rag.NewStorageError("clear", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *SQLiteVectorStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return rag.NewStorageError("ping", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteVectorStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx    *sql.Tx
	store *SQLiteVectorStore
}

func (t *sqliteTx) Insert(ctx context.Context, doc *rag.Document) (int64, error) {
	if err := checkDimension(t.store.dimension, doc.Embedding); err != nil {
		return 0, rag.NewStorageError("insert", err)
	}

	var embeddingJSON any
	if len(doc.Embedding) > 0 {
		b, err := json.Marshal(doc.Embedding)
		if err != nil {
			return 0, rag.NewStorageError("insert", fmt.Errorf("failed to marshal embedding: %w", err))
		}
		embeddingJSON = string(b)
	}
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, rag.NewStorageError("insert", fmt.Errorf("failed to marshal metadata: %w", err))
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO documents (content, embedding, metadata, created_at) VALUES (?, ?, ?, ?)`,
		doc.Content, embeddingJSON, string(metadataJSON), t.store.now().UnixNano())
	if err != nil {
		return 0, rag.NewStorageError("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, rag.NewStorageError("insert", err)
	}
	return id, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return rag.NewStorageError("commit", err)
	}
	return nil
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return rag.NewStorageError("rollback", err)
	}
	return nil
}
