package domain

import (
	"context"
	"sync"
)

type usageKey struct{}

// Usage collects token usage for a single request across embedding and generation calls.
// The handler puts a pointer into the context before calling a service; services add to it;
// the handler reads it for response headers. Safe for use by parallel embedding workers.
type Usage struct {
	mu               sync.Mutex
	embeddingTokens  int
	generationTokens int
	embedded         bool
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// AddEmbeddingTokens records consumed embedding tokens. A cache hit records zero tokens
// but still marks the request as having used the embedder.
func (u *Usage) AddEmbeddingTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.embeddingTokens += n
	u.embedded = true
	u.mu.Unlock()
}

// AddGenerationTokens records consumed generation tokens.
func (u *Usage) AddGenerationTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.generationTokens += n
	u.mu.Unlock()
}

// EmbeddingTokens returns the embedding tokens recorded so far and whether the embedder was called.
func (u *Usage) EmbeddingTokens() (int, bool) {
	if u == nil {
		return 0, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.embeddingTokens, u.embedded
}

// GenerationTokens returns the generation tokens recorded so far.
func (u *Usage) GenerationTokens() int {
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.generationTokens
}
