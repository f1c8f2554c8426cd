package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(8)
	assert.Equal(t, 8, e.GetDimension())

	a, err := e.EmbedDocument(ctx, "graph databases")
	assert.NoError(t, err)
	assert.Len(t, a, 8)

	b, err := e.EmbedDocument(ctx, "graph databases")
	assert.NoError(t, err)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosineSimilarity32(a, b), 1e-6)

	embs, err := e.EmbedDocuments(ctx, []string{"test1", "test2"})
	assert.NoError(t, err)
	assert.Len(t, embs, 2)
	assert.NotEqual(t, embs[0], embs[1])
}
