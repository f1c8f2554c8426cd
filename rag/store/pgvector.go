package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/smallnest/graphrag/rag"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	insertDocumentSQL = `INSERT INTO documents (content, embedding, metadata) VALUES ($1, $2, $3) RETURNING id`

	searchDocumentsSQL = `SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
FROM documents
WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $2
ORDER BY embedding <=> $1, id
LIMIT $3`

	deleteDocumentSQL = `DELETE FROM documents WHERE id = $1`

	clearDocumentsSQL = `DELETE FROM documents`

	statsDocumentsSQL = `SELECT COUNT(*), COUNT(embedding), COUNT(DISTINCT metadata->>'source'), MIN(created_at), MAX(created_at) FROM documents`
)

// PGVectorStore implements rag.VectorStore on PostgreSQL with the pgvector extension
type PGVectorStore struct {
	pool      DBPool
	dimension int
	timeout   time.Duration
}

var _ rag.VectorStore = (*PGVectorStore)(nil)

// PGVectorOptions configuration for the PostgreSQL vector store
type PGVectorOptions struct {
	ConnString string
	Dimension  int
	// Timeout bounds every statement. Zero disables it.
	Timeout time.Duration
}

// NewPGVectorStore creates a new PostgreSQL vector store
func NewPGVectorStore(ctx context.Context, opts PGVectorOptions) (*PGVectorStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, rag.NewStorageError("connect", fmt.Errorf("unable to create connection pool: %w", err))
	}
	return NewPGVectorStoreWithPool(pool, opts.Dimension, opts.Timeout), nil
}

// NewPGVectorStoreWithPool creates a new PostgreSQL vector store with an existing pool
// Useful for testing with mocks
func NewPGVectorStoreWithPool(pool DBPool, dimension int, timeout time.Duration) *PGVectorStore {
	return &PGVectorStore{
		pool:      pool,
		dimension: dimension,
		timeout:   timeout,
	}
}

// InitSchema creates the extension, the documents table and its indexes.
func (s *PGVectorStore) InitSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, stmt := range documentSchema(s.dimension) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return rag.NewStorageError("init schema", fmt.Errorf("failed to create schema: %w", err))
		}
	}
	return nil
}

// Begin opens a database transaction.
func (s *PGVectorStore) Begin(ctx context.Context) (rag.VectorTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, rag.NewStorageError("begin", err)
	}
	return &pgVectorTx{tx: tx, store: s}, nil
}

// Search returns the k documents most similar to embedding.
func (s *PGVectorStore) Search(ctx context.Context, embedding []float32, k int, threshold float64) ([]rag.SearchResult, error) {
	if err := checkDimension(s.dimension, embedding); err != nil {
		return nil, rag.NewStorageError("search", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, searchDocumentsSQL, pgvector.NewVector(embedding), threshold, k)
	if err != nil {
		return nil, rag.NewStorageError("search", err)
	}
	defer rows.Close()

	results := make([]rag.SearchResult, 0, k)
	for rows.Next() {
		var (
			doc          rag.Document
			metadataJSON []byte
			similarity   float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &similarity); err != nil {
			return nil, rag.NewStorageError("search", fmt.Errorf("failed to scan row: %w", err))
		}
		doc.Metadata, err = decodeMetadata(metadataJSON)
		if err != nil {
			return nil, rag.NewStorageError("search", err)
		}
		results = append(results, rag.SearchResult{Document: doc, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, rag.NewStorageError("search", err)
	}
	return results, nil
}

// Delete removes a document by id.
func (s *PGVectorStore) Delete(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, deleteDocumentSQL, id)
	if err != nil {
		return rag.NewStorageError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return &rag.NotFoundError{ID: id}
	}
	return nil
}

// Stats aggregates the documents table.
func (s *PGVectorStore) Stats(ctx context.Context) (*rag.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var stats rag.Stats
	var first, last *time.Time
	err := s.pool.QueryRow(ctx, statsDocumentsSQL).Scan(
		&stats.TotalDocuments,
		&stats.DocumentsWithEmbeddings,
		&stats.UniqueSources,
		&first,
		&last,
	)
	if err != nil {
		return nil, rag.NewStorageError("stats", err)
	}
	stats.FirstDocumentDate = first
	stats.LastDocumentDate = last
	return &stats, nil
}

// Clear deletes every document.
func (s *PGVectorStore) Clear(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, clearDocumentsSQL)
	if err != nil {
		return 0, rag.NewStorageError("clear", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the database connection.
func (s *PGVectorStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, "SELECT 1"); err != nil {
		return rag.NewStorageError("ping", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGVectorStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

type pgVectorTx struct {
	tx    pgx.Tx
	store *PGVectorStore
	done  bool
}

func (t *pgVectorTx) Insert(ctx context.Context, doc *rag.Document) (int64, error) {
	if err := checkDimension(t.store.dimension, doc.Embedding); err != nil {
		return 0, rag.NewStorageError("insert", err)
	}
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, rag.NewStorageError("insert", fmt.Errorf("failed to marshal metadata: %w", err))
	}

	ctx, cancel := t.store.withTimeout(ctx)
	defer cancel()

	var id int64
	if err := t.tx.QueryRow(ctx, insertDocumentSQL, doc.Content, pgvector.NewVector(doc.Embedding), metadataJSON).Scan(&id); err != nil {
		return 0, rag.NewStorageError("insert", err)
	}
	return id, nil
}

func (t *pgVectorTx) Commit(ctx context.Context) error {
	if t.done {
		return rag.NewStorageError("commit", ErrTxDone)
	}
	t.done = true
	if err := t.tx.Commit(ctx); err != nil {
		return rag.NewStorageError("commit", err)
	}
	return nil
}

func (t *pgVectorTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return rag.NewStorageError("rollback", err)
	}
	return nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	metadata := map[string]any{}
	if len(raw) == 0 {
		return metadata, nil
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, nil
}
