package ragvault

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/transport/openai"
)

const (
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultChatModel        = "gpt-4o-mini"
	defaultOpenAIDimensions = 1536
)

// Embedder converts text to vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
// Optional: if the provided Embedder also implements BatchEmbedder,
// ingestion uses it for all chunks of a document.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token counts.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// Generator completes prompts, batched or streamed.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (Completion, error)
	Stream(ctx context.Context, systemPrompt, userPrompt string) (TokenStream, error)
}

// Completion is a batched model answer. TotalTokens is zero when the model reports no usage.
type Completion struct {
	Text        string
	TotalTokens int
}

// TokenStream yields answer fragments. Recv returns io.EOF after the last one.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	be, ok := a.inner.(BatchEmbedder)
	if !ok {
		return domain.BatchFallback(ctx, a, texts)
	}
	r, err := be.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   r.Embeddings,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// generatorAdapter wraps public Generator to satisfy internal domain.Generator.
type generatorAdapter struct {
	inner Generator
}

func (a *generatorAdapter) Complete(ctx context.Context, systemPrompt, userPrompt string) (domain.Completion, error) {
	c, err := a.inner.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("complete: %w", err)
	}
	return domain.Completion{Text: c.Text, TotalTokens: c.TotalTokens}, nil
}

func (a *generatorAdapter) Stream(ctx context.Context, systemPrompt, userPrompt string) (domain.TokenStream, error) {
	s, err := a.inner.Stream(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return s, nil
}

func newOpenAI(cfg OpenAIConfig) (*openai.Embedder, *openai.Generator) {
	embModel := cfg.EmbeddingModel
	if embModel == "" {
		embModel = defaultEmbeddingModel
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = defaultChatModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}

	emb := openai.NewEmbedder(&openai.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      embModel,
		Dimensions: cfg.Dimensions,
		Provider:   "openai",
		Timeout:    cfg.Timeout,
	})
	gen := openai.NewGenerator(&openai.GeneratorConfig{
		Config: openai.Config{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    chatModel,
			Provider: "openai",
			Timeout:  cfg.Timeout,
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	return emb, gen
}
