package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force in-memory cosine store. It is sized for the
// knowledge catalogues and warehouse schema, not for large corpora.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
	dims        int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store that accepts vectors of dims dimensions.
func NewMemoryStore(dims int) *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Record),
		dims:        dims,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, records []Record) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d in %s has no id", i, collection)
		}
		if len(r.Embedding) != s.dims {
			return fmt.Errorf("record %s: embedding dimensions mismatch: expected %d, got %d", r.ID, s.dims, len(r.Embedding))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]Record, len(records))
		s.collections[collection] = c
	}
	for _, r := range records {
		c[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) NearVector(_ context.Context, collection string, embedding []float32, limit int) ([]Result, error) {
	if len(embedding) != s.dims {
		return nil, fmt.Errorf("query embedding dimensions mismatch: expected %d, got %d", s.dims, len(embedding))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%s: %w", collection, ErrCollectionNotFound)
	}

	results := make([]Result, 0, len(c))
	for _, r := range c {
		results = append(results, Result{Record: r, Distance: 1 - cosineSimilarity(embedding, r.Embedding)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance == results[j].Distance {
			return results[i].Record.ID < results[j].Record.ID
		}
		return results[i].Distance < results[j].Distance
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryStore) Exists(_ context.Context, collection string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, collection string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%s: %w", collection, ErrCollectionNotFound)
	}
	out := make([]Record, 0, len(c))
	for _, r := range c {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
