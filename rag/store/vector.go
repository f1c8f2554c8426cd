package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/smallnest/graphrag/rag"
)

// ErrTxDone is returned by a transaction used after Commit or Rollback.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// InMemoryVectorStore is a simple in-memory vector store implementation
type InMemoryVectorStore struct {
	mu        sync.RWMutex
	documents []rag.Document
	nextID    int64
	dimension int
	now       func() time.Time
}

var _ rag.VectorStore = (*InMemoryVectorStore)(nil)

// NewInMemoryVectorStore creates a new InMemoryVectorStore. A dimension of
// zero accepts embeddings of any width.
func NewInMemoryVectorStore(dimension int) *InMemoryVectorStore {
	return &InMemoryVectorStore{
		documents: make([]rag.Document, 0),
		nextID:    1,
		dimension: dimension,
		now:       time.Now,
	}
}

// Begin opens a transaction whose inserts become visible on Commit.
func (s *InMemoryVectorStore) Begin(ctx context.Context) (rag.VectorTx, error) {
	return &memoryTx{store: s}, nil
}

// Search performs similarity search
func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding []float32, k int, threshold float64) ([]rag.SearchResult, error) {
	if k <= 0 {
		return nil, rag.NewStorageError("search", fmt.Errorf("k must be positive"))
	}
	if err := checkDimension(s.dimension, queryEmbedding); err != nil {
		return nil, rag.NewStorageError("search", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]rag.SearchResult, 0, len(s.documents))
	for _, doc := range s.documents {
		if len(doc.Embedding) == 0 {
			continue
		}
		similarity := cosineSimilarity32(queryEmbedding, doc.Embedding)
		if similarity < threshold {
			continue
		}
		results = append(results, rag.SearchResult{Document: cloneDocument(doc), Similarity: similarity})
	}

	rankResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes a document by ID
func (s *InMemoryVectorStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, doc := range s.documents {
		if doc.ID == id {
			s.documents = append(s.documents[:i], s.documents[i+1:]...)
			return nil
		}
	}
	return &rag.NotFoundError{ID: id}
}

// Stats returns statistics about the vector store
func (s *InMemoryVectorStore) Stats(ctx context.Context) (*rag.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &rag.Stats{TotalDocuments: int64(len(s.documents))}
	sources := make(map[string]struct{})
	for _, doc := range s.documents {
		if len(doc.Embedding) > 0 {
			stats.DocumentsWithEmbeddings++
		}
		if v, ok := doc.Metadata["source"]; ok && v != nil {
			sources[rag.SourceOf(doc.Metadata)] = struct{}{}
		}
		created := doc.CreatedAt
		if stats.FirstDocumentDate == nil || created.Before(*stats.FirstDocumentDate) {
			stats.FirstDocumentDate = &created
		}
		if stats.LastDocumentDate == nil || created.After(*stats.LastDocumentDate) {
			stats.LastDocumentDate = &created
		}
	}
	stats.UniqueSources = int64(len(sources))
	return stats, nil
}

// Clear removes every document and returns how many were removed.
func (s *InMemoryVectorStore) Clear(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.documents))
	s.documents = make([]rag.Document, 0)
	return n, nil
}

// Ping always succeeds.
func (s *InMemoryVectorStore) Ping(ctx context.Context) error {
	return nil
}

// Close closes the vector store (no-op for in-memory implementation)
func (s *InMemoryVectorStore) Close() error {
	return nil
}

func (s *InMemoryVectorStore) commit(staged []rag.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, staged...)
}

func (s *InMemoryVectorStore) allocateID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

type memoryTx struct {
	store  *InMemoryVectorStore
	staged []rag.Document
	done   bool
}

func (t *memoryTx) Insert(ctx context.Context, doc *rag.Document) (int64, error) {
	if t.done {
		return 0, rag.NewStorageError("insert", ErrTxDone)
	}
	if err := checkDimension(t.store.dimension, doc.Embedding); err != nil {
		return 0, rag.NewStorageError("insert", err)
	}

	stored := cloneDocument(*doc)
	stored.ID = t.store.allocateID()
	if stored.Metadata == nil {
		stored.Metadata = map[string]any{}
	}
	stored.CreatedAt = t.store.now()
	t.staged = append(t.staged, stored)
	return stored.ID, nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return rag.NewStorageError("commit", ErrTxDone)
	}
	t.done = true
	t.store.commit(t.staged)
	t.staged = nil
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	t.done = true
	t.staged = nil
	return nil
}

// rankResults orders by descending similarity, ascending id on ties.
func rankResults(results []rag.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Document.ID < results[j].Document.ID
	})
}

func checkDimension(dimension int, embedding []float32) error {
	if dimension > 0 && len(embedding) != dimension {
		return fmt.Errorf("%w: got %d, want %d", rag.ErrDimensionMismatch, len(embedding), dimension)
	}
	return nil
}

func cloneDocument(doc rag.Document) rag.Document {
	out := doc
	if doc.Embedding != nil {
		out.Embedding = append([]float32(nil), doc.Embedding...)
	}
	if doc.Metadata != nil {
		out.Metadata = make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// cosineSimilarity32 calculates cosine similarity between two float32 vectors
func cosineSimilarity32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float64
	var normA float64
	var normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
