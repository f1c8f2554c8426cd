package store

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/graphrag/rag"
)

// FalkorDBGraph implements rag.GraphStore on FalkorDB
type FalkorDBGraph struct {
	client    redis.UniversalClient
	graphName string
}

var _ rag.GraphStore = (*FalkorDBGraph)(nil)

// NewFalkorDBGraph creates a FalkorDB graph store from a
// falkordb://[user:password@]host:port/graph_name URL.
func NewFalkorDBGraph(connectionString string) (*FalkorDBGraph, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	addr := u.Host
	if addr == "" {
		return nil, fmt.Errorf("invalid connection string: missing host")
	}
	graphName := strings.TrimPrefix(u.Path, "/")
	if graphName == "" {
		graphName = DefaultGraphName
	}

	opts := &redis.Options{Addr: addr}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}

	return NewFalkorDBGraphWithClient(redis.NewClient(opts), graphName), nil
}

// NewFalkorDBGraphWithClient creates a FalkorDB graph store on an existing client.
func NewFalkorDBGraphWithClient(client redis.UniversalClient, graphName string) *FalkorDBGraph {
	if graphName == "" {
		graphName = DefaultGraphName
	}
	return &FalkorDBGraph{client: client, graphName: graphName}
}

// CreateNode adds a Document node
func (f *FalkorDBGraph) CreateNode(ctx context.Context, node *rag.GraphNode) error {
	g := NewGraph(f.graphName, f.client)

	label := sanitizeLabel(node.NodeType)
	if node.NodeType == "" {
		label = rag.NodeTypeDocument
	}
	query := fmt.Sprintf("CREATE (:%s {doc_id: $doc_id, preview: $preview, source: $source, length: $length})", label)

	_, err := g.Query(ctx, query, map[string]any{
		"doc_id":  node.DocID,
		"preview": node.Preview,
		"source":  node.Source,
		"length":  node.Length,
	})
	if err != nil {
		return rag.NewStorageError("graph create node", err)
	}
	return nil
}

// AddRelationship connects the nodes of two documents.
func (f *FalkorDBGraph) AddRelationship(ctx context.Context, from, to int64, relation string) error {
	g := NewGraph(f.graphName, f.client)

	query := fmt.Sprintf("MATCH (a {doc_id: $from}), (b {doc_id: $to}) MERGE (a)-[:%s]->(b)", sanitizeLabel(relation))
	_, err := g.Query(ctx, query, map[string]any{"from": from, "to": to})
	if err != nil {
		return rag.NewStorageError("graph add relationship", err)
	}
	return nil
}

// Related returns matched document nodes with their one-hop neighbours.
func (f *FalkorDBGraph) Related(ctx context.Context, docIDs []int64, limit int) ([]rag.GraphRow, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	g := NewGraph(f.graphName, f.client)

	query := "MATCH (d:Document) WHERE d.doc_id IN $doc_ids OPTIONAL MATCH (d)-[r]-(related) RETURN d.doc_id, type(r), related"
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	qr, err := g.Query(ctx, query, map[string]any{"doc_ids": docIDs})
	if err != nil {
		return nil, rag.NewStorageError("graph related", err)
	}

	rows := make([]rag.GraphRow, 0, len(qr.Results))
	for _, vals := range qr.Results {
		if len(vals) < 3 {
			continue
		}
		id, ok := toInt64(vals[0])
		if !ok {
			continue
		}
		row := rag.GraphRow{DocID: id}
		if rel, ok := toString(vals[1]); ok {
			row.Relation = rel
		}
		row.Related = parseNode(vals[2])
		rows = append(rows, row)
	}
	return rows, nil
}

// DeleteNodes removes the node of a document with its edges
func (f *FalkorDBGraph) DeleteNodes(ctx context.Context, docID int64) error {
	g := NewGraph(f.graphName, f.client)

	_, err := g.Query(ctx, "MATCH (n {doc_id: $doc_id}) DETACH DELETE n", map[string]any{"doc_id": docID})
	if err != nil {
		return rag.NewStorageError("graph delete", err)
	}
	return nil
}

// Clear drops the graph. The next CREATE recreates it.
func (f *FalkorDBGraph) Clear(ctx context.Context) error {
	g := NewGraph(f.graphName, f.client)

	if err := g.Delete(ctx); err != nil {
		return rag.NewStorageError("graph clear", err)
	}
	return nil
}

// Close closes the driver
func (f *FalkorDBGraph) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Helpers

var labelRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func sanitizeLabel(l string) string {
	clean := labelRegex.ReplaceAllString(l, "_")
	if clean == "" {
		return "RELATED_TO"
	}
	return clean
}

// parseNode reads a node from a verbose GRAPH.QUERY reply:
// [[id, n], [labels, [l...]], [properties, [[k, v]...]]].
func parseNode(obj any) map[string]any {
	fields, ok := obj.([]any)
	if !ok || len(fields) == 0 {
		return nil
	}

	node := make(map[string]any)
	for _, f := range fields {
		pair, ok := f.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		key, _ := toString(pair[0])
		switch key {
		case "labels":
			if labels, ok := pair[1].([]any); ok && len(labels) > 0 {
				if l, ok := toString(labels[0]); ok {
					node["label"] = l
				}
			}
		case "properties":
			props, ok := pair[1].([]any)
			if !ok {
				continue
			}
			for _, p := range props {
				kv, ok := p.([]any)
				if !ok || len(kv) != 2 {
					continue
				}
				k, _ := toString(kv[0])
				v := kv[1]
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				node[k] = v
			}
		}
	}
	return node
}

func toString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	}
	return "", false
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}
