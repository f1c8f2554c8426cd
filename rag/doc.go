// Package rag defines the domain of the GraphRAG service: documents, graph
// nodes, search results, query results and the collaborator interfaces the
// engine is built from.
//
// # Collaborators
//
//   - Embedder: turns text into a fixed-width vector. LangChainEmbedder adapts
//     any langchaingo embeddings.Embedder.
//   - VectorStore / VectorTx: persists documents and ranks them by cosine
//     similarity. Implementations live in rag/store.
//   - GraphStore: keeps one node per document and answers one-hop
//     neighbourhood lookups. Optional.
//   - Generator: answers a system + user prompt. LangChainGenerator adapts any
//     langchaingo llms.Model.
//   - ModelLister: lists the models loaded in the LLM backend.
//
// # Modes
//
// A CompletionRequest carries an explicit Mode. ModeExtraction appends a
// directive that forbids anything not literally present in the input text;
// ModeGeneration sends the system prompt unchanged. The engine only answers
// questions and always uses ModeGeneration; ModeExtraction and
// DefaultExtractionParams are for callers that extract facts with the same
// Generator, such as graph builders outside this module.
//
//	answer, err := gen.Complete(ctx, rag.CompletionRequest{
//		SystemPrompt: "Extract the people mentioned in the text as a JSON list.",
//		UserPrompt:   text,
//		Mode:         rag.ModeExtraction,
//		Temperature:  0,
//		TopP:         0.95,
//		MaxTokens:    2048,
//	})
//
// # Errors
//
// Every failure returned by the engine is one of EmbeddingError,
// GenerationError, StorageError, NotFoundError or ValidationError. Each
// matches its sentinel with errors.Is:
//
//	if errors.Is(err, rag.ErrNotFound) {
//		// 404
//	}
//
// GraphWarning is only ever logged: graph enrichment never fails an ingest
// or a query.
package rag
