package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/smallnest/graphrag/rag"
)

// NewGraphStore creates a graph store based on the database URL. An empty URL
// or "none" returns a nil store, which disables graph enrichment.
func NewGraphStore(ctx context.Context, databaseURL, graphName string) (rag.GraphStore, error) {
	switch {
	case databaseURL == "" || databaseURL == "none":
		return nil, nil
	case strings.HasPrefix(databaseURL, "memory://"):
		return NewMemoryGraph(), nil
	case strings.HasPrefix(databaseURL, "falkordb://"):
		g, err := NewFalkorDBGraph(databaseURL)
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	connString := databaseURL
	if rest, ok := strings.CutPrefix(databaseURL, "age://"); ok {
		connString = "postgres://" + rest
	} else if !isPostgresURL(databaseURL) {
		return nil, fmt.Errorf("unsupported graph store URL %q: use memory://, falkordb://, age:// or postgres://", databaseURL)
	}
	g, err := NewAGEGraphStore(ctx, AGEOptions{ConnString: connString, GraphName: graphName})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewVectorStore creates a vector store based on the database URL.
func NewVectorStore(ctx context.Context, databaseURL string, dimension int) (rag.VectorStore, error) {
	switch {
	case strings.HasPrefix(databaseURL, "memory://"):
		return NewInMemoryVectorStore(dimension), nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		s, err := NewSQLiteVectorStore(SQLiteOptions{
			Path:      strings.TrimPrefix(databaseURL, "sqlite://"),
			Dimension: dimension,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case isPostgresURL(databaseURL):
		s, err := NewPGVectorStore(ctx, PGVectorOptions{ConnString: databaseURL, Dimension: dimension})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported vector store URL %q: use postgres://, sqlite:// or memory://", databaseURL)
}

func isPostgresURL(u string) bool {
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

type memoryEdge struct {
	from, to int64
	relation string
}

// MemoryGraph implements an in-memory graph store
type MemoryGraph struct {
	mu    sync.RWMutex
	nodes map[int64]rag.GraphNode
	edges []memoryEdge
}

var _ rag.GraphStore = (*MemoryGraph)(nil)

// NewMemoryGraph creates an empty MemoryGraph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{nodes: make(map[int64]rag.GraphNode)}
}

// CreateNode adds a document node to the memory graph
func (m *MemoryGraph) CreateNode(ctx context.Context, node *rag.GraphNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[node.DocID]; exists {
		return fmt.Errorf("node for document %d already exists", node.DocID)
	}
	n := *node
	if n.NodeType == "" {
		n.NodeType = rag.NodeTypeDocument
	}
	m.nodes[node.DocID] = n
	return nil
}

// AddRelationship connects two document nodes with a typed edge.
func (m *MemoryGraph) AddRelationship(ctx context.Context, from, to int64, relation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[from]; !ok {
		return fmt.Errorf("node for document %d not found", from)
	}
	if _, ok := m.nodes[to]; !ok {
		return fmt.Errorf("node for document %d not found", to)
	}
	m.edges = append(m.edges, memoryEdge{from: from, to: to, relation: sanitizeLabel(relation)})
	return nil
}

// Related returns one row per matched node without edges, and one row per
// edge touching a matched node, in docIDs order.
func (m *MemoryGraph) Related(ctx context.Context, docIDs []int64, limit int) ([]rag.GraphRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]rag.GraphRow, 0)
	for _, id := range docIDs {
		if _, ok := m.nodes[id]; !ok {
			continue
		}
		matched := false
		for _, e := range m.edges {
			var other int64
			switch id {
			case e.from:
				other = e.to
			case e.to:
				other = e.from
			default:
				continue
			}
			matched = true
			rows = append(rows, rag.GraphRow{DocID: id, Relation: e.relation, Related: nodeProperties(m.nodes[other])})
		}
		if !matched {
			rows = append(rows, rag.GraphRow{DocID: id})
		}
	}

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// DeleteNodes removes the node of a document and its edges.
func (m *MemoryGraph) DeleteNodes(ctx context.Context, docID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nodes, docID)
	kept := m.edges[:0]
	for _, e := range m.edges {
		if e.from != docID && e.to != docID {
			kept = append(kept, e)
		}
	}
	m.edges = kept
	return nil
}

// Clear removes all nodes and edges.
func (m *MemoryGraph) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes = make(map[int64]rag.GraphNode)
	m.edges = nil
	return nil
}

// NodeCount returns the number of stored nodes.
func (m *MemoryGraph) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// Close closes the memory graph (no-op for in-memory implementation)
func (m *MemoryGraph) Close() error {
	return nil
}

// nodeProperties flattens a node the way graph backends return vertex properties.
func nodeProperties(n rag.GraphNode) map[string]any {
	props := make(map[string]any, len(n.Properties)+4)
	for k, v := range n.Properties {
		props[k] = v
	}
	props["doc_id"] = n.DocID
	props["preview"] = n.Preview
	props["source"] = n.Source
	props["length"] = n.Length
	return props
}
