// Package loader reads plain-text files into documents ready for ingestion.
package loader

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxFileSize bounds the size of a loaded file.
const MaxFileSize = 10 << 20

// Document is the content and metadata of one file.
type Document struct {
	Content  string
	Metadata map[string]any
}

// TextLoader loads a document from a text file
type TextLoader struct {
	filePath string
	metadata map[string]any
}

// TextLoaderOption configures the TextLoader
type TextLoaderOption func(*TextLoader)

// WithMetadata sets additional metadata for the loaded document
func WithMetadata(metadata map[string]any) TextLoaderOption {
	return func(l *TextLoader) {
		maps.Copy(l.metadata, metadata)
	}
}

// WithSource overrides the source, which defaults to the file name.
func WithSource(source string) TextLoaderOption {
	return func(l *TextLoader) {
		if source != "" {
			l.metadata["source"] = source
		}
	}
}

// NewTextLoader creates a new TextLoader
func NewTextLoader(filePath string, opts ...TextLoaderOption) *TextLoader {
	l := &TextLoader{
		filePath: filePath,
		metadata: map[string]any{
			"source": filepath.Base(filePath),
			"type":   "text",
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the file. Files that are empty, larger than MaxFileSize or not
// valid UTF-8 are rejected.
func (l *TextLoader) Load(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", l.filePath, err)
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", l.filePath, err)
	}
	if len(content) > MaxFileSize {
		return nil, fmt.Errorf("file %s exceeds %d bytes", l.filePath, MaxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("file %s is not valid UTF-8 text", l.filePath)
	}
	if strings.TrimSpace(string(content)) == "" {
		return nil, fmt.Errorf("file %s is empty", l.filePath)
	}

	metadata := make(map[string]any, len(l.metadata))
	maps.Copy(metadata, l.metadata)
	return &Document{Content: string(content), Metadata: metadata}, nil
}
