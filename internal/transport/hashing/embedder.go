// Package hashing is a local embedding provider based on signed feature hashing.
// Vectors are deterministic for a given dimension and need no network or model files.
package hashing

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// DefaultDimensions matches the sentence-transformers MiniLM family.
const DefaultDimensions = 384

// bigramWeight scales adjacent-word features relative to single words.
const bigramWeight = 0.5

// Embedder hashes word unigrams and bigrams into a fixed number of buckets.
type Embedder struct {
	dim int
}

// New creates a hashing embedder producing vectors of dim components.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Embedder{dim: dim}
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int { return e.dim }

// Embed implements domain.Embedder. The result is L2-normalised; text without
// words maps to the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("hashing embed: %w: %w", domain.ErrEmbeddingProviderError, err)
	}
	return domain.EmbeddingResult{Embedding: e.vector(text)}, nil
}

// BatchEmbed implements domain.BatchEmbedder.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("hashing batch embed: %w: %w",
				domain.ErrEmbeddingProviderError, err)
		}
		out[i] = e.vector(text)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

// HealthCheck always succeeds.
func (e *Embedder) HealthCheck(context.Context) error { return nil }

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dim)
	words := domain.Tokenize(text)
	for i, w := range words {
		e.add(vec, w, 1)
		if i > 0 {
			e.add(vec, words[i-1]+" "+w, bigramWeight)
		}
	}
	return domain.Normalize(vec)
}

// add hashes a feature to a bucket; one hash bit picks the sign so collisions cancel out on average.
func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(e.dim)
	if h>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
