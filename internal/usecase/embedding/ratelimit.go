package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/metrics"
)

// RateLimitedEmbedder throttles provider requests with a token bucket.
// A batch call is one provider request and takes one token.
type RateLimitedEmbedder struct {
	inner   domain.Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder limits inner to rps requests per second with the given burst.
func NewRateLimitedEmbedder(inner domain.Embedder, rps float64, burst int) *RateLimitedEmbedder {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed waits for a token and delegates.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := r.wait(ctx); err != nil {
		return domain.EmbeddingResult{}, err
	}
	res, err := r.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("rate limited embed: %w", err)
	}
	return res, nil
}

// BatchEmbed waits for a single token and delegates the whole batch.
func (r *RateLimitedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if err := r.wait(ctx); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	res, err := domain.EmbedAll(ctx, r.inner, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("rate limited batch embed: %w", err)
	}
	return res, nil
}

// HealthCheck bypasses the limiter.
func (r *RateLimitedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := r.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// wait fails fast with ErrRateLimited when the context deadline would pass before a token is free.
func (r *RateLimitedEmbedder) wait(ctx context.Context) error {
	start := time.Now()
	err := r.limiter.Wait(ctx)
	metrics.EmbeddingRateLimitWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	}
	return nil
}
