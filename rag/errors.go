package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbedding is matched by every EmbeddingError.
	ErrEmbedding = errors.New("rag: embedding failed")

	// ErrGeneration is matched by every GenerationError.
	ErrGeneration = errors.New("rag: answer generation failed")

	// ErrStorage is matched by every StorageError.
	ErrStorage = errors.New("rag: storage failure")

	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("rag: document not found")

	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("rag: invalid request")

	// ErrDimensionMismatch is returned by vector stores when an embedding does
	// not have the configured width.
	ErrDimensionMismatch = errors.New("rag: embedding dimension mismatch")
)

// EmbeddingError reports an unreachable, failing or malformed embedding backend.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "embedding failed: " + e.Err.Error() }

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

// GenerationError reports an unreachable, failing or malformed LLM backend.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "answer generation failed: " + e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// StorageError reports a connection or query failure of a store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NotFoundError reports a delete or update of a missing document.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("document %d not found", e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports a request argument out of range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// GraphWarning describes a failed, non-fatal graph enrichment step. It is
// only ever logged.
type GraphWarning struct {
	Op    string
	DocID int64
	Err   error
}

func (w *GraphWarning) Error() string {
	if w.DocID != 0 {
		return fmt.Sprintf("graph %s for document %d: %v", w.Op, w.DocID, w.Err)
	}
	return fmt.Sprintf("graph %s: %v", w.Op, w.Err)
}

func (w *GraphWarning) Unwrap() error { return w.Err }

// NewStorageError wraps err unless it already is a StorageError or NotFoundError.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	var nf *NotFoundError
	if errors.As(err, &se) || errors.As(err, &nf) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
