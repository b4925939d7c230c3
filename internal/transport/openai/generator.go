package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/metrics"
)

// Generator answers prompts through the chat completions API.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	user        string
	provider    string
	logger      *zap.Logger
}

// GeneratorConfig holds chat completion settings on top of the connection Config.
type GeneratorConfig struct {
	Config
	Temperature float32
	MaxTokens   int
}

// NewGenerator creates an OpenAI-compatible chat generator.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:      newClient(&cfg.Config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		user:        cfg.User,
		provider:    cfg.Provider,
		logger:      logger,
	}
}

func (g *Generator) request(systemPrompt, userPrompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		User:        g.user,
	}
}

// Complete implements domain.Generator with a single chat completion call.
func (g *Generator) Complete(ctx context.Context, systemPrompt, userPrompt string) (domain.Completion, error) {
	start := time.Now()

	resp, err := g.client.CreateChatCompletion(ctx, g.request(systemPrompt, userPrompt))

	metrics.GenerationDuration.WithLabelValues(g.provider, g.model, "batch").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "batch", "error").Inc()
		return domain.Completion{}, parseAPIError("generation", err, domain.ErrGenerationProviderError)
	}
	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "batch", "error").Inc()
		return domain.Completion{}, fmt.Errorf("empty completion response: %w", domain.ErrGenerationProviderError)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "batch", "success").Inc()
	g.recordTokens(resp.Usage)

	return domain.Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// Stream implements domain.Generator with a streamed chat completion.
// Cancelling ctx aborts the upstream HTTP request.
func (g *Generator) Stream(ctx context.Context, systemPrompt, userPrompt string) (domain.TokenStream, error) {
	req := g.request(systemPrompt, userPrompt)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	start := time.Now()
	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "stream", "error").Inc()
		return nil, parseAPIError("generation", err, domain.ErrGenerationProviderError)
	}

	return &tokenStream{gen: g, stream: stream, start: start}, nil
}

func (g *Generator) recordTokens(u openai.Usage) {
	if u.TotalTokens <= 0 {
		return
	}
	metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "prompt").Add(float64(u.PromptTokens))
	metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "completion").Add(float64(u.CompletionTokens))
	metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "total").Add(float64(u.TotalTokens))
}

// HealthCheck verifies API availability via ListModels.
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

type tokenStream struct {
	gen    *Generator
	stream *openai.ChatCompletionStream
	start  time.Time
	once   sync.Once
}

// Recv skips chunks without content (role headers, the trailing usage chunk).
func (s *tokenStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish("success")
			return "", io.EOF
		}
		if err != nil {
			s.finish("error")
			return "", parseAPIError("generation stream", err, domain.ErrGenerationProviderError)
		}
		if resp.Usage != nil {
			s.gen.recordTokens(*resp.Usage)
		}
		if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
			return resp.Choices[0].Delta.Content, nil
		}
	}
}

func (s *tokenStream) Close() error {
	s.finish("cancelled")
	s.stream.Close()
	return nil
}

func (s *tokenStream) finish(status string) {
	s.once.Do(func() {
		g := s.gen
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "stream", status).Inc()
		metrics.GenerationDuration.WithLabelValues(g.provider, g.model, "stream").Observe(time.Since(s.start).Seconds())
	})
}
