package ragvault

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// countingEmbedder embeds by letter counts and records how it was called.
type countingEmbedder struct {
	mu          sync.Mutex
	dim         int
	singleCalls int
	batchCalls  int
}

func (e *countingEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[int(r-'a')%e.dim]++
		}
	}
	return domain.Normalize(v)
}

func (e *countingEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	e.mu.Lock()
	e.singleCalls++
	e.mu.Unlock()
	return EmbeddingResult{Embedding: e.vector(text)}, nil
}

func (e *countingEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	e.mu.Lock()
	e.batchCalls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return BatchEmbeddingResult{Embeddings: out}, nil
}

// fixedGenerator answers with a fixed text and streams it word by word.
type fixedGenerator struct {
	text   string
	tokens int
	err    error
	block  bool // stream blocks after the first word until ctx is done

	mu         sync.Mutex
	userPrompt string
	stream     *wordStream
}

func (g *fixedGenerator) Complete(_ context.Context, _, user string) (Completion, error) {
	g.mu.Lock()
	g.userPrompt = user
	g.mu.Unlock()
	if g.err != nil {
		return Completion{}, g.err
	}
	return Completion{Text: g.text, TotalTokens: g.tokens}, nil
}

func (g *fixedGenerator) Stream(ctx context.Context, _, user string) (TokenStream, error) {
	if g.err != nil {
		return nil, g.err
	}
	s := &wordStream{ctx: ctx, words: strings.SplitAfter(g.text, " "), block: g.block}
	g.mu.Lock()
	g.userPrompt = user
	g.stream = s
	g.mu.Unlock()
	return s, nil
}

func (g *fixedGenerator) closed() bool {
	g.mu.Lock()
	s := g.stream
	g.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

type wordStream struct {
	ctx   context.Context
	words []string
	block bool
	sent  int

	mu       sync.Mutex
	isClosed bool
}

func (s *wordStream) Recv() (string, error) {
	if s.block && s.sent >= 1 {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.sent >= len(s.words) {
		return "", io.EOF
	}
	w := s.words[s.sent]
	s.sent++
	return w, nil
}

func (s *wordStream) Close() error {
	s.mu.Lock()
	s.isClosed = true
	s.mu.Unlock()
	return nil
}
