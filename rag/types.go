package rag

import (
	"context"
	"fmt"
	"time"
)

const (
	// NodeTypeDocument is the label of the graph node created for every ingested document.
	NodeTypeDocument = "Document"

	// UnknownSource is recorded when a document carries no "source" metadata.
	UnknownSource = "unknown"
)

// Document is a stored piece of knowledge with its embedding.
type Document struct {
	ID        int64          `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Source returns the "source" metadata value, or UnknownSource.
func (d *Document) Source() string {
	return SourceOf(d.Metadata)
}

// SourceOf extracts the "source" field from document metadata.
func SourceOf(metadata map[string]any) string {
	v, ok := metadata["source"]
	if !ok || v == nil {
		return UnknownSource
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// GraphNode is the graph-side twin of a Document.
type GraphNode struct {
	DocID      int64          `json:"doc_id"`
	NodeType   string         `json:"node_type"`
	Preview    string         `json:"preview"`
	Source     string         `json:"source"`
	Length     int            `json:"length"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphRow is one row of a related-nodes lookup: a matched document node and,
// when an edge exists, the relation type and the node on the other end.
type GraphRow struct {
	DocID    int64
	Relation string
	Related  map[string]any
}

// HasRelationship reports whether the row carries an edge.
func (r GraphRow) HasRelationship() bool {
	return r.Relation != ""
}

// SearchResult is a document with its similarity to the query embedding.
type SearchResult struct {
	Document   Document
	Similarity float64
}

// Source is a retrieved document as reported to the caller of a query.
type Source struct {
	ID         int64          `json:"id"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// GraphContext summarizes the graph neighbourhood of the retrieved documents.
type GraphContext struct {
	NodesFound       int  `json:"nodes_found"`
	HasRelationships bool `json:"has_relationships"`
	SampleNodes      int  `json:"sample_nodes"`
}

// QueryRequest describes a question to the knowledge base.
type QueryRequest struct {
	Question            string  `json:"question"`
	TopK                int     `json:"top_k"`
	UseGraph            bool    `json:"use_graph"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// QueryResult is the answer to a QueryRequest. It is never persisted.
type QueryResult struct {
	Answer       string        `json:"answer"`
	Sources      []Source      `json:"sources"`
	GraphContext *GraphContext `json:"graph_context"`
}

// Stats aggregates the contents of a vector store.
type Stats struct {
	TotalDocuments          int64      `json:"total_documents"`
	DocumentsWithEmbeddings int64      `json:"documents_with_embeddings"`
	UniqueSources           int64      `json:"unique_sources"`
	FirstDocumentDate       *time.Time `json:"first_document_date"`
	LastDocumentDate        *time.Time `json:"last_document_date"`
}

// Mode selects how the answer generator treats the system prompt.
type Mode int

const (
	// ModeGeneration answers a question from a supplied context.
	ModeGeneration Mode = iota
	// ModeExtraction pulls entities and relations out of a text and appends
	// a directive forbidding anything not literally present in it.
	ModeExtraction
)

func (m Mode) String() string {
	switch m {
	case ModeGeneration:
		return "generation"
	case ModeExtraction:
		return "extraction"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Mode         Mode
	Temperature  float64
	TopP         float64
	MaxTokens    int
}

// GenerationParams holds sampling parameters.
type GenerationParams struct {
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DefaultGenerationParams are used to answer questions.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{Temperature: 0.7, TopP: 0.9, MaxTokens: 800}
}

// DefaultExtractionParams keep sampling deterministic for entity and relation extraction.
func DefaultExtractionParams() GenerationParams {
	return GenerationParams{Temperature: 0.0, TopP: 0.95, MaxTokens: 2048}
}

// Embedder converts text to a fixed-length vector.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	GetDimension() int
}

// Generator produces text from a system and a user prompt.
type Generator interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ModelLister lists the models a backend has loaded. It doubles as the LLM health probe.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// VectorTx is an open write scope on a VectorStore. Rollback after Commit is a no-op.
type VectorTx interface {
	Insert(ctx context.Context, doc *Document) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// VectorStore persists documents and ranks them by cosine similarity.
type VectorStore interface {
	Begin(ctx context.Context) (VectorTx, error)
	// Search returns at most k documents with similarity >= threshold,
	// ordered by descending similarity and ascending id on ties.
	Search(ctx context.Context, embedding []float32, k int, threshold float64) ([]SearchResult, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// GraphStore keeps one node per document and answers neighbourhood lookups.
type GraphStore interface {
	CreateNode(ctx context.Context, node *GraphNode) error
	// Related returns rows for nodes whose doc_id is in docIDs together with
	// their one-hop neighbours, at most limit rows.
	Related(ctx context.Context, docIDs []int64, limit int) ([]GraphRow, error)
	DeleteNodes(ctx context.Context, docID int64) error
	Clear(ctx context.Context) error
	Close() error
}
