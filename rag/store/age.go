package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/graphrag/rag"
)

// DefaultGraphName is the AGE graph used when none is configured.
const DefaultGraphName = "knowledge_graph"

var graphNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// AGEGraphStore implements rag.GraphStore on PostgreSQL with Apache AGE
type AGEGraphStore struct {
	pool      DBPool
	graphName string
	timeout   time.Duration

	createSQL  string
	relatedSQL string
	deleteSQL  string
	clearSQL   string
}

var _ rag.GraphStore = (*AGEGraphStore)(nil)

// AGEOptions configuration for the Apache AGE graph store
type AGEOptions struct {
	ConnString string
	GraphName  string
	Timeout    time.Duration
}

// NewAGEGraphStore connects to PostgreSQL and prepares every pooled
// connection for cypher() calls.
func NewAGEGraphStore(ctx context.Context, opts AGEOptions) (*AGEGraphStore, error) {
	graphName, err := validGraphName(opts.GraphName)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, rag.NewStorageError("connect", fmt.Errorf("invalid connection string: %w", err))
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, `LOAD 'age'`); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, `SET search_path = ag_catalog, "$user", public`)
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, rag.NewStorageError("connect", fmt.Errorf("unable to create connection pool: %w", err))
	}
	return NewAGEGraphStoreWithPool(pool, graphName, opts.Timeout)
}

// NewAGEGraphStoreWithPool creates an AGE graph store with an existing pool.
// The pool must already have AGE loaded on its connections.
func NewAGEGraphStoreWithPool(pool DBPool, graphName string, timeout time.Duration) (*AGEGraphStore, error) {
	graphName, err := validGraphName(graphName)
	if err != nil {
		return nil, err
	}
	return &AGEGraphStore{
		pool:      pool,
		graphName: graphName,
		timeout:   timeout,

		createSQL: fmt.Sprintf(`SELECT * FROM cypher('%s', $$
	CREATE (d:Document {doc_id: $doc_id, preview: $preview, source: $source, length: $length})
$$, $1) AS (d agtype)`, graphName),
		relatedSQL: fmt.Sprintf(`SELECT doc_id, rel_type, related FROM cypher('%s', $$
	MATCH (d:Document)
	WHERE d.doc_id IN $doc_ids
	OPTIONAL MATCH (d)-[r]-(related)
	RETURN d.doc_id, type(r), related
$$, $1) AS (doc_id agtype, rel_type agtype, related agtype)
LIMIT $2`, graphName),
		deleteSQL: fmt.Sprintf(`SELECT * FROM cypher('%s', $$
	MATCH (d:Document {doc_id: $doc_id})
	DETACH DELETE d
$$, $1) AS (d agtype)`, graphName),
		clearSQL: fmt.Sprintf(`SELECT * FROM cypher('%s', $$
	MATCH (n)
	DETACH DELETE n
$$) AS (n agtype)`, graphName),
	}, nil
}

func validGraphName(name string) (string, error) {
	if name == "" {
		return DefaultGraphName, nil
	}
	if !graphNameRegex.MatchString(name) {
		return "", fmt.Errorf("invalid graph name %q", name)
	}
	return name, nil
}

// GraphName returns the AGE graph this store writes to.
func (s *AGEGraphStore) GraphName() string {
	return s.graphName
}

// InitSchema creates the AGE extension, the graph and the link table.
func (s *AGEGraphStore) InitSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, stmt := range graphSchema(s.graphName) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return rag.NewStorageError("init graph schema", err)
		}
	}
	return nil
}

// CreateNode creates the document vertex and its document_nodes row in one transaction.
func (s *AGEGraphStore) CreateNode(ctx context.Context, node *rag.GraphNode) error {
	params, err := json.Marshal(map[string]any{
		"doc_id":  node.DocID,
		"preview": node.Preview,
		"source":  node.Source,
		"length":  node.Length,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal node parameters: %w", err)
	}
	props := node.Properties
	if props == nil {
		props = map[string]any{"source": node.Source}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal node properties: %w", err)
	}
	nodeType := node.NodeType
	if nodeType == "" {
		nodeType = rag.NodeTypeDocument
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return rag.NewStorageError("graph begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, s.createSQL, string(params)); err != nil {
		return rag.NewStorageError("graph create node", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO document_nodes (document_id, node_id, node_type, properties) VALUES ($1, $2, $3, $4)`,
		node.DocID, node.DocID, nodeType, propsJSON)
	if err != nil {
		return rag.NewStorageError("graph link node", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return rag.NewStorageError("graph commit", err)
	}
	return nil
}

// Related returns the matched document nodes with their one-hop neighbours.
func (s *AGEGraphStore) Related(ctx context.Context, docIDs []int64, limit int) ([]rag.GraphRow, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	params, err := json.Marshal(map[string]any{"doc_ids": docIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query parameters: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, s.relatedSQL, string(params), limit)
	if err != nil {
		return nil, rag.NewStorageError("graph related", err)
	}
	defer rows.Close()

	out := make([]rag.GraphRow, 0)
	for rows.Next() {
		var docID, relType, related *string
		if err := rows.Scan(&docID, &relType, &related); err != nil {
			return nil, rag.NewStorageError("graph related", fmt.Errorf("failed to scan row: %w", err))
		}
		row, err := parseAGERow(docID, relType, related)
		if err != nil {
			return nil, rag.NewStorageError("graph related", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, rag.NewStorageError("graph related", err)
	}
	return out, nil
}

// DeleteNodes removes the document vertex, its edges and its link rows.
func (s *AGEGraphStore) DeleteNodes(ctx context.Context, docID int64) error {
	params, err := json.Marshal(map[string]any{"doc_id": docID})
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return rag.NewStorageError("graph begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, s.deleteSQL, string(params)); err != nil {
		return rag.NewStorageError("graph delete", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM document_nodes WHERE document_id = $1`, docID); err != nil {
		return rag.NewStorageError("graph unlink node", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return rag.NewStorageError("graph commit", err)
	}
	return nil
}

// Clear removes every vertex and edge of the graph and all link rows.
func (s *AGEGraphStore) Clear(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, s.clearSQL); err != nil {
		return rag.NewStorageError("graph clear", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM document_nodes`); err != nil {
		return rag.NewStorageError("graph clear", err)
	}
	return nil
}

// Close closes the connection pool
func (s *AGEGraphStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *AGEGraphStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

// agtype text output suffixes entities with their kind, e.g. {...}::vertex.
var agtypeSuffix = regexp.MustCompile(`::(vertex|edge|path|numeric)$`)

func parseAGERow(docID, relType, related *string) (rag.GraphRow, error) {
	var row rag.GraphRow
	if docID == nil {
		return row, errors.New("row without doc_id")
	}
	id, err := strconv.ParseInt(strings.Trim(agtypeSuffix.ReplaceAllString(*docID, ""), `"`), 10, 64)
	if err != nil {
		return row, fmt.Errorf("invalid doc_id %q: %w", *docID, err)
	}
	row.DocID = id

	if relType != nil && *relType != "null" {
		var rel string
		if err := json.Unmarshal([]byte(*relType), &rel); err != nil {
			rel = strings.Trim(*relType, `"`)
		}
		row.Relation = rel
	}

	if related != nil && *related != "null" {
		var vertex struct {
			ID         int64          `json:"id"`
			Label      string         `json:"label"`
			Properties map[string]any `json:"properties"`
		}
		if err := json.Unmarshal([]byte(agtypeSuffix.ReplaceAllString(*related, "")), &vertex); err != nil {
			return row, fmt.Errorf("invalid related vertex: %w", err)
		}
		row.Related = vertex.Properties
		if row.Related == nil {
			row.Related = map[string]any{}
		}
		row.Related["label"] = vertex.Label
	}
	return row, nil
}
