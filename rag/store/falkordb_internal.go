package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// quoteString renders a Cypher string literal.
func quoteString(i any) any {
	switch x := i.(type) {
	case string:
		x = strings.ReplaceAll(x, `\`, `\\`)
		x = strings.ReplaceAll(x, `"`, `\"`)
		return `"` + x + `"`
	default:
		return i
	}
}

// paramValue renders a query parameter value for the CYPHER header.
func paramValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return quoteString(x).(string)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []int64:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return quoteString(fmt.Sprint(x)).(string)
	}
}

// withParams prefixes a query with a "CYPHER k=v ..." header, keys sorted.
func withParams(q string, params map[string]any) string {
	if len(params) == 0 {
		return q
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("CYPHER")
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(paramValue(params[k]))
	}
	b.WriteString(" ")
	b.WriteString(q)
	return b.String()
}

// Graph is a named FalkorDB graph on a Redis connection.
type Graph struct {
	Name string
	Conn redis.UniversalClient
}

// NewGraph creates a new graph (helper constructor).
func NewGraph(name string, conn redis.UniversalClient) Graph {
	return Graph{Name: name, Conn: conn}
}

// QueryResult holds the result rows of a query.
type QueryResult struct {
	Results [][]any
}

// Query executes a parameterized query against the graph.
func (g *Graph) Query(ctx context.Context, q string, params map[string]any) (QueryResult, error) {
	qr := QueryResult{}

	res, err := g.Conn.Do(ctx, "GRAPH.QUERY", g.Name, withParams(q, params)).Result()
	if err != nil {
		return qr, err
	}

	r, ok := res.([]any)
	if !ok {
		return qr, fmt.Errorf("unexpected response type: %T", res)
	}

	// [header, rows, statistics] for reads, [statistics] for writes.
	switch len(r) {
	case 3:
		qr.Results = resultRows(r[1])
	case 1:
	default:
		return qr, fmt.Errorf("unexpected response length: %d", len(r))
	}

	return qr, nil
}

// Delete drops the whole graph. A graph that was never written is already gone.
func (g *Graph) Delete(ctx context.Context) error {
	err := g.Conn.Do(ctx, "GRAPH.DELETE", g.Name).Err()
	if err != nil && strings.Contains(err.Error(), "empty key") {
		return nil
	}
	return err
}

func resultRows(v any) [][]any {
	rows, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		if vals, ok := row.([]any); ok {
			out = append(out, vals)
		}
	}
	return out
}
