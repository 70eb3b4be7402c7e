package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"github.com/ekaya-inc/ekaya-finsight/pkg/llm"
)

// LLMEmbedder generates embeddings through the configured LLM endpoint.
type LLMEmbedder struct {
	client llm.LLMClient
	model  string
	dims   int
}

var _ Embedder = (*LLMEmbedder)(nil)

func NewLLMEmbedder(client llm.LLMClient, model string, dims int) *LLMEmbedder {
	return &LLMEmbedder{client: client, model: model, dims: dims}
}

func (e *LLMEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.client.CreateEmbedding(ctx, text, e.model)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	return v, nil
}

func (e *LLMEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vs, err := e.client.CreateEmbeddings(ctx, texts, e.model)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}
	return vs, nil
}

func (e *LLMEmbedder) Dimensions() int { return e.dims }

// HashEmbedder is a deterministic bag-of-words embedder: each token is hashed
// into one signed dimension. Texts sharing words land close together, which is
// enough for the built-in catalogues when no embedding endpoint is configured.
type HashEmbedder struct {
	dims int
}

var _ Embedder = (*HashEmbedder)(nil)

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "by": true, "in": true,
	"on": true, "to": true, "and": true, "or": true, "is": true, "what": true, "show": true,
	"me": true, "this": true, "with": true, "our": true, "my": true, "was": true, "are": true,
}

// Tokenize lowercases text and splits it on anything that is not a letter, digit or '%'.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '%'
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dims)
	for _, tok := range Tokenize(text) {
		h := sha256.Sum256([]byte(tok))
		idx := binary.BigEndian.Uint64(h[:8]) % uint64(e.dims)
		if h[8]&1 == 1 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	return v, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEmbedder) Dimensions() int { return e.dims }
