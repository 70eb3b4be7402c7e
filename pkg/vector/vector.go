// Package vector provides the semantic index used by the knowledge service and
// schema-aware planning.
package vector

import (
	"context"
	"errors"
)

// ErrCollectionNotFound is returned when searching a collection that was never written.
var ErrCollectionNotFound = errors.New("vector collection not found")

// Record is one indexed object.
type Record struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Properties map[string]string `json:"properties,omitempty"`
	Embedding  []float32         `json:"-"`
}

// Result is a search hit. Distance is 1 - cosine similarity, so 0 is identical.
type Result struct {
	Record   Record  `json:"record"`
	Distance float64 `json:"distance"`
}

// Store is a collection-oriented vector store.
type Store interface {
	Upsert(ctx context.Context, collection string, records []Record) error
	// NearVector returns up to limit records ordered by ascending distance.
	NearVector(ctx context.Context, collection string, embedding []float32, limit int) ([]Result, error)
	Exists(ctx context.Context, collection string) (bool, error)
	Get(ctx context.Context, collection string) ([]Record, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
