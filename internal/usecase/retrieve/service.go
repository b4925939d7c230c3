// Package retrieve finds the chunks of one tenant most similar to a question.
package retrieve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/metrics"
)

// Options bound the result size.
type Options struct {
	DefaultTopK     int // used when the query asks for top_k <= 0
	MaxTopK         int
	OverfetchFactor int // candidates searched per requested result, before the tenant filter
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{DefaultTopK: 3, MaxTopK: 20, OverfetchFactor: 3}
}

// Service embeds a question and searches the shared index, keeping only the caller's entries.
type Service struct {
	embedder domain.Embedder
	index    Searcher
	opts     Options
	logger   *zap.Logger
}

// New creates a retrieval service. The embedder should be the query-side chain.
func New(embedder domain.Embedder, index Searcher, opts Options, logger *zap.Logger) *Service {
	def := DefaultOptions()
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = def.DefaultTopK
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = def.MaxTopK
	}
	if opts.OverfetchFactor < 1 {
		opts.OverfetchFactor = def.OverfetchFactor
	}
	return &Service{embedder: embedder, index: index, opts: opts, logger: logger}
}

// TopK resolves the effective result count for a requested top_k.
func (s *Service) TopK(requested int) int {
	k := requested
	if k <= 0 {
		k = s.opts.DefaultTopK
	}
	return min(k, s.opts.MaxTopK)
}

// Retrieve returns up to TopK(q.TopK) chunks owned by q.UserID, best first.
// An empty result is not an error.
func (s *Service) Retrieve(ctx context.Context, q domain.Query) ([]domain.RetrievedChunk, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	k := s.TopK(q.TopK)

	res, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, res.Embedding, k*s.opts.OverfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	chunks := make([]domain.RetrievedChunk, 0, k)
	for _, h := range hits {
		md := h.Entry.Metadata
		if md.UserID != q.UserID {
			continue
		}
		chunks = append(chunks, domain.RetrievedChunk{
			Text:           h.Entry.Text,
			Title:          md.Title,
			DocumentID:     md.DocumentID,
			ChunkIndex:     md.ChunkIndex,
			RelevanceScore: h.Score,
		})
		if len(chunks) == k {
			break
		}
	}

	metrics.RetrievedChunks.Observe(float64(len(chunks)))
	s.logger.Debug("Retrieved chunks",
		zap.String("user_id", q.UserID),
		zap.Int("top_k", k),
		zap.Int("candidates", len(hits)),
		zap.Int("returned", len(chunks)),
	)
	return chunks, nil
}
