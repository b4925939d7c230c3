// Package answer drives a generative model over retrieved chunks, batched or streamed.
package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/metrics"
)

const (
	// NoDocumentsAnswer is the batched answer when the caller owns no matching chunks.
	NoDocumentsAnswer = "I don't have any documents in your Knowledge Vault yet. " +
		"Please upload some documents or notes first!"
	// NoDocumentsMessage is the streamed error text for the same case.
	NoDocumentsMessage = "No documents found in your Knowledge Vault"

	errorAnswerPrefix = "Error generating answer: "
)

// Options configure generation calls.
type Options struct {
	Timeout      time.Duration // per model call; 0 = bounded by the caller's context only
	SystemPrompt string
}

// Service answers questions from retrieved chunks.
type Service struct {
	retriever Retriever
	generator domain.Generator
	opts      Options
	logger    *zap.Logger
}

// New creates an answer service.
func New(retriever Retriever, generator domain.Generator, opts Options, logger *zap.Logger) *Service {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = domain.SystemPrompt
	}
	return &Service{retriever: retriever, generator: generator, opts: opts, logger: logger}
}

// Answer retrieves chunks and asks the model once. A model failure is reported inside the
// answer together with the retrieved chunks and citations; only retrieval failures return an error.
func (s *Service) Answer(ctx context.Context, q domain.Query) (domain.Answer, error) {
	chunks, err := s.retriever.Retrieve(ctx, q)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("batch", "error").Inc()
		return domain.Answer{}, fmt.Errorf("retrieve: %w", err)
	}

	if len(chunks) == 0 {
		metrics.QueriesTotal.WithLabelValues("batch", "empty").Inc()
		return domain.Answer{
			Answer:    NoDocumentsAnswer,
			Chunks:    []domain.RetrievedChunk{},
			Citations: []domain.Citation{},
		}, nil
	}

	citations := domain.Citations(chunks)
	prompt := domain.NewPrompt(q.Text, chunks)

	gctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	c, err := s.generator.Complete(gctx, s.opts.SystemPrompt, prompt.String())
	if err != nil {
		err = generationError(err)
		metrics.QueriesTotal.WithLabelValues("batch", "error").Inc()
		s.logger.Warn("Answer generation failed",
			zap.String("user_id", q.UserID),
			zap.Int("chunks", len(chunks)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return domain.Answer{
			Answer:    errorAnswerPrefix + err.Error(),
			Chunks:    chunks,
			Citations: citations,
			Error:     err.Error(),
		}, nil
	}

	metrics.QueriesTotal.WithLabelValues("batch", "ok").Inc()
	domain.UsageFromContext(ctx).AddGenerationTokens(c.TotalTokens)

	a := domain.Answer{Answer: c.Text, Chunks: chunks, Citations: citations}
	if c.TotalTokens > 0 {
		tokens := c.TotalTokens
		a.TokensUsed = &tokens
	}
	return a, nil
}

// Stream validates q and starts a streamed answer. The channel yields citations, then
// tokens, then exactly one done or error event, and is closed afterwards. Cancelling ctx
// stops the producer and releases the model stream; no further events are sent.
func (s *Service) Stream(ctx context.Context, q domain.Query) (<-chan domain.Event, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		status := s.stream(ctx, q, out)
		metrics.QueriesTotal.WithLabelValues("stream", status).Inc()
	}()
	return out, nil
}

func (s *Service) stream(ctx context.Context, q domain.Query, out chan<- domain.Event) string {
	send := func(ev domain.Event) bool {
		// Both cases can be ready at once; a cancelled stream must not emit another event.
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error, msg string) string {
		if ctx.Err() != nil {
			return "cancelled"
		}
		send(domain.Event{Type: domain.EventError, Err: err, Message: msg})
		return "error"
	}

	chunks, err := s.retriever.Retrieve(ctx, q)
	if err != nil {
		return fail(fmt.Errorf("retrieve: %w", err), "")
	}

	if !send(domain.Event{Type: domain.EventCitations, Citations: domain.Citations(chunks)}) {
		return "cancelled"
	}
	if len(chunks) == 0 {
		fail(domain.ErrNoDocuments, NoDocumentsMessage)
		return "empty"
	}

	gctx, cancel := s.withTimeout(ctx)
	defer cancel()

	prompt := domain.NewPrompt(q.Text, chunks)
	ts, err := s.generator.Stream(gctx, s.opts.SystemPrompt, prompt.String())
	if err != nil {
		return fail(generationError(err), "")
	}
	defer ts.Close()

	tokens := 0
	for {
		tok, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			if !send(domain.Event{Type: domain.EventDone}) {
				return "cancelled"
			}
			s.logger.Debug("Answer streamed", zap.String("user_id", q.UserID), zap.Int("tokens", tokens))
			return "ok"
		}
		if err != nil {
			return fail(generationError(err), "")
		}
		if !send(domain.Event{Type: domain.EventToken, Token: tok}) {
			return "cancelled"
		}
		tokens++
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// generationError files timeouts and unclassified model failures under ErrGenerationProviderError.
func generationError(err error) error {
	if errors.Is(err, domain.ErrGenerationProviderError) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrGenerationProviderError, err)
}
