package store

import (
	"context"
	"fmt"
	"time"

	"github.com/smallnest/graphrag/log"
)

// documentSchema returns the statements creating the documents table. The
// vector width is a schema property and is only interpolated here. There is no
// ANN index on embedding: Search ranks every row exactly.
func documentSchema(dimension int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	content TEXT NOT NULL,
	embedding vector(%d),
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, dimension),
		`CREATE INDEX IF NOT EXISTS documents_source_idx ON documents ((metadata->>'source'))`,
	}
}

// graphSchema returns the statements creating the AGE graph and the
// document_nodes link table. create_graph fails on an existing graph, so it
// is guarded by a catalog lookup. Link rows are written before the document
// row commits, so document_id carries no foreign key.
func graphSchema(graphName string) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS age`,
		fmt.Sprintf(`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM ag_catalog.ag_graph WHERE name = '%s') THEN
		PERFORM ag_catalog.create_graph('%s');
	END IF;
END
$$`, graphName, graphName),
		`CREATE TABLE IF NOT EXISTS document_nodes (
	document_id BIGINT NOT NULL,
	node_id BIGINT NOT NULL,
	node_type TEXT NOT NULL,
	properties JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (document_id, node_id)
)`,
	}
}

// Pinger is satisfied by every store able to check its connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitForDatabase pings p until it answers or the attempts run out.
func WaitForDatabase(ctx context.Context, p Pinger, attempts int, interval time.Duration, logger log.Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = p.Ping(ctx); err == nil {
			logger.Info("database is ready")
			return nil
		}
		logger.Warn("waiting for database (%d/%d): %v", i, attempts, err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("database not ready after %d attempts: %w", attempts, err)
}
