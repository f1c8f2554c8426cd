package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/graphrag/rag"
)

func TestMemoryGraph(t *testing.T) {
	ctx := context.Background()
	gs, err := NewGraphStore(ctx, "memory://", "")
	require.NoError(t, err)
	kg := gs.(*MemoryGraph)

	for id, src := range map[int64]string{1: "a.txt", 2: "b.txt", 3: "c.txt"} {
		require.NoError(t, kg.CreateNode(ctx, &rag.GraphNode{DocID: id, Source: src, Preview: src, Length: 5}))
	}

	t.Run("duplicate node", func(t *testing.T) {
		assert.Error(t, kg.CreateNode(ctx, &rag.GraphNode{DocID: 1}))
	})

	t.Run("related without edges", func(t *testing.T) {
		rows, err := kg.Related(ctx, []int64{3}, 20)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].DocID)
		assert.False(t, rows[0].HasRelationship())
	})

	t.Run("related with edges", func(t *testing.T) {
		require.NoError(t, kg.AddRelationship(ctx, 1, 2, "MENTIONS"))
		assert.Error(t, kg.AddRelationship(ctx, 1, 99, "MENTIONS"))

		rows, err := kg.Related(ctx, []int64{2, 1, 42}, 20)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(2), rows[0].DocID)
		assert.Equal(t, "MENTIONS", rows[0].Relation)
		assert.Equal(t, "a.txt", rows[0].Related["source"])
		assert.Equal(t, int64(1), rows[1].DocID)
		assert.Equal(t, int64(2), rows[1].Related["doc_id"])
	})

	t.Run("limit", func(t *testing.T) {
		rows, err := kg.Related(ctx, []int64{1, 2, 3}, 2)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("delete removes edges", func(t *testing.T) {
		require.NoError(t, kg.DeleteNodes(ctx, 2))
		rows, err := kg.Related(ctx, []int64{1}, 20)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.False(t, rows[0].HasRelationship())
		assert.Equal(t, 2, kg.NodeCount())
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, kg.Clear(ctx))
		assert.Zero(t, kg.NodeCount())
	})
}

func TestNewGraphStore(t *testing.T) {
	ctx := context.Background()

	for _, u := range []string{"", "none"} {
		gs, err := NewGraphStore(ctx, u, "")
		require.NoError(t, err)
		assert.Nil(t, gs)
	}

	gs, err := NewGraphStore(ctx, "falkordb://localhost:6379/kg", "")
	require.NoError(t, err)
	assert.IsType(t, &FalkorDBGraph{}, gs)
	gs.Close()

	_, err = NewGraphStore(ctx, "neo4j://localhost", "")
	assert.Error(t, err)

	_, err = NewGraphStore(ctx, "postgres://localhost/db", "bad-name")
	assert.Error(t, err)
}

func TestNewVectorStore(t *testing.T) {
	ctx := context.Background()

	vs, err := NewVectorStore(ctx, "memory://", 3)
	require.NoError(t, err)
	assert.IsType(t, &InMemoryVectorStore{}, vs)

	vs, err = NewVectorStore(ctx, "sqlite://"+filepath.Join(t.TempDir(), "v.db"), 3)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteVectorStore{}, vs)
	vs.Close()

	_, err = NewVectorStore(ctx, "mysql://localhost", 3)
	assert.Error(t, err)
}
