package engine

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/smallnest/graphrag/rag"
)

const (
	// PreviewLength is the number of runes kept as a graph node preview.
	PreviewLength = 200
	// SourceContentLength is the number of runes of content returned per source.
	SourceContentLength = 300
	// GraphRowLimit caps the rows of a graph context lookup.
	GraphRowLimit = 20
)

// buildContext renders the retrieved documents and the optional graph summary
// into the block handed to the answer generator.
func buildContext(p rag.Prompts, results []rag.SearchResult, graph *rag.GraphContext) string {
	var b strings.Builder
	b.WriteString(p.ContextHeader)

	for i, r := range results {
		source := p.UnknownSource
		if v, ok := r.Document.Metadata["source"]; ok && v != nil {
			source = rag.SourceOf(r.Document.Metadata)
		}
		fmt.Fprintf(&b, p.DocumentEntry, i+1, rag.Percent(r.Similarity), source, r.Document.Content)
	}

	if graph != nil {
		fmt.Fprintf(&b, p.GraphSummary, graph.NodesFound)
	}
	return b.String()
}

// summarizeGraph turns related rows into a GraphContext; no rows means no context.
func summarizeGraph(rows []rag.GraphRow) *rag.GraphContext {
	if len(rows) == 0 {
		return nil
	}
	gc := &rag.GraphContext{NodesFound: len(rows), SampleNodes: len(rows)}
	for _, r := range rows {
		if r.HasRelationship() {
			gc.HasRelationships = true
			break
		}
	}
	return gc
}

func toSources(results []rag.SearchResult) []rag.Source {
	sources := make([]rag.Source, len(results))
	for i, r := range results {
		metadata := r.Document.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		sources[i] = rag.Source{
			ID:         r.Document.ID,
			Content:    truncateRunes(r.Document.Content, SourceContentLength),
			Similarity: roundTo(r.Similarity, 4),
			Metadata:   metadata,
		}
	}
	return sources
}

func newGraphNode(docID int64, content string, metadata map[string]any) *rag.GraphNode {
	source := rag.SourceOf(metadata)
	return &rag.GraphNode{
		DocID:      docID,
		NodeType:   rag.NodeTypeDocument,
		Preview:    truncateRunes(content, PreviewLength),
		Source:     source,
		Length:     utf8.RuneCountInString(content),
		Properties: map[string]any{"source": source},
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
