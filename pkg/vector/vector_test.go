package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-finsight/pkg/llm"
)

func embedAll(t *testing.T, e Embedder, texts map[string]string) []Record {
	t.Helper()
	var out []Record
	for id, text := range texts {
		v, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		out = append(out, Record{ID: id, Text: text, Embedding: v})
	}
	return out
}

func TestMemoryStore_NearVectorOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(256)
	s := NewMemoryStore(256)

	require.NoError(t, s.Upsert(ctx, "FinancialMetrics", embedAll(t, e, map[string]string{
		"GROSS_MARGIN": "gross margin gross profit",
		"EBITDA":       "ebitda earnings before interest taxes depreciation amortization",
		"REVENUE":      "revenue net sales",
	})))

	q, err := e.Embed(ctx, "what was our gross margin")
	require.NoError(t, err)
	results, err := s.NearVector(ctx, "FinancialMetrics", q, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "GROSS_MARGIN", results[0].Record.ID)
	assert.Less(t, results[0].Distance, 0.5)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
}

func TestMemoryStore_IdenticalTextHasZeroDistance(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(64)
	s := NewMemoryStore(64)
	require.NoError(t, s.Upsert(ctx, "c", embedAll(t, e, map[string]string{"a": "operating income"})))

	q, _ := e.Embed(ctx, "Operating Income")
	results, err := s.NearVector(ctx, "c", q, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(4)

	_, err := s.NearVector(ctx, "missing", make([]float32, 4), 1)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	assert.Error(t, s.Upsert(ctx, "c", []Record{{ID: "x", Embedding: make([]float32, 3)}}))
	assert.Error(t, s.Upsert(ctx, "c", []Record{{Embedding: make([]float32, 4)}}))

	ok, err := s.Exists(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(128)
	a, _ := e.Embed(context.Background(), "Gross margin by region")
	b, _ := e.Embed(context.Background(), "gross MARGIN, by region!")
	assert.Equal(t, a, b)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"gross", "margin", "%", "q1", "2024"}, Tokenize("Show the gross margin % for Q1 2024"))
}

func TestLLMEmbedder_DelegatesToClient(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.CreateEmbeddingFunc = func(ctx context.Context, input string, model string) ([]float32, error) {
		assert.Equal(t, "text-embedding-3-small", model)
		return []float32{1, 2, 3}, nil
	}
	e := NewLLMEmbedder(client, "text-embedding-3-small", 3)

	v, err := e.Embed(context.Background(), "revenue")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)
	assert.Equal(t, 3, e.Dimensions())
}
