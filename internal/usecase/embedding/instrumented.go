package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// DefaultMaxAPIBatchSize is the largest sub-batch sent in one provider request.
const DefaultMaxAPIBatchSize = 256

// Options control sub-batching of BatchEmbed.
type Options struct {
	BatchSize   int // texts per provider request, capped at DefaultMaxAPIBatchSize
	Concurrency int // sub-batches in flight
}

// InstrumentedEmbedder wraps Embedder with logging, request usage accounting
// and parallel sub-batching. Transport metrics (requests, duration, tokens)
// are recorded in transport/openai.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	opts     Options
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder with observability.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string,
	opts Options, logger *zap.Logger,
) *InstrumentedEmbedder {
	if opts.BatchSize <= 0 || opts.BatchSize > DefaultMaxAPIBatchSize {
		opts.BatchSize = DefaultMaxAPIBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		opts:     opts,
		logger:   logger,
	}
}

// Embed delegates to the inner embedder and records usage.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	start := time.Now()

	result, err := p.inner.Embed(ctx, text)

	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", providerError(err))
	}

	domain.UsageFromContext(ctx).AddEmbeddingTokens(result.TotalTokens)

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// BatchEmbed splits texts into sub-batches and embeds them in parallel.
// The output order equals the input order.
func (p *InstrumentedEmbedder) BatchEmbed(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	start := time.Now()

	result, err := p.embedChunked(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	duration := time.Since(start)
	domain.UsageFromContext(ctx).AddEmbeddingTokens(result.TotalTokens)

	p.logger.Debug("Batch embedding completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("batch_size", len(texts)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// embedChunked embeds sub-batches of opts.BatchSize with at most opts.Concurrency in flight.
// Each sub-batch writes into its own slots, so no locking is needed.
func (p *InstrumentedEmbedder) embedChunked(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	size := p.opts.BatchSize
	n := (len(texts) + size - 1) / size

	embeddings := make([][]float32, len(texts))
	prompt := make([]int, n)
	total := make([]int, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i := range n {
		offset := i * size
		end := min(offset+size, len(texts))
		chunk := texts[offset:end]

		g.Go(func() error {
			res, err := domain.EmbedAll(gctx, p.inner, chunk)
			if err != nil {
				p.logger.Error("Batch embedding request failed",
					zap.String("provider", p.provider),
					zap.String("model", p.model),
					zap.Int("chunk_offset", offset),
					zap.Int("chunk_size", len(chunk)),
					zap.Error(err),
				)
				return fmt.Errorf("batch embed [%d:%d]: %w", offset, end, providerError(err))
			}
			copy(embeddings[offset:end], res.Embeddings)
			prompt[i] = res.PromptTokens
			total[i] = res.TotalTokens
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	out := domain.BatchEmbeddingResult{Embeddings: embeddings}
	for i := range n {
		out.PromptTokens += prompt[i]
		out.TotalTokens += total[i]
	}
	return out, nil
}

// providerError keeps classified errors as they are and files everything else
// (timeouts, cancellations, unknown provider failures) under ErrEmbeddingProviderError.
func providerError(err error) error {
	if errors.Is(err, domain.ErrEmbeddingProviderError) || errors.Is(err, domain.ErrRateLimited) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
}
