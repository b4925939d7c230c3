// Package extractive answers questions offline by quoting the source sentences
// that share the most terms with the question.
package extractive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// NoAnswer is returned when no sentence shares a term with the question.
const NoAnswer = "The provided documents do not contain an answer to this question."

// DefaultMaxSentences bounds the answer length.
const DefaultMaxSentences = 3

// minTermLen drops short function words ("is", "of", "a") from matching.
const minTermLen = 3

// Generator is a domain.Generator that needs no model.
type Generator struct {
	maxSentences int
}

// New creates an extractive generator quoting at most maxSentences sentences.
func New(maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Generator{maxSentences: maxSentences}
}

// Complete implements domain.Generator. The system prompt is ignored.
func (g *Generator) Complete(ctx context.Context, _, userPrompt string) (domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return domain.Completion{}, fmt.Errorf("extractive complete: %w: %w", domain.ErrGenerationProviderError, err)
	}
	p, ok := domain.ParsePrompt(userPrompt)
	if !ok {
		return domain.Completion{}, fmt.Errorf("extractive complete: unrecognised prompt: %w",
			domain.ErrGenerationProviderError)
	}
	return domain.Completion{Text: g.answer(p)}, nil
}

// Stream implements domain.Generator, yielding the answer word by word.
func (g *Generator) Stream(ctx context.Context, systemPrompt, userPrompt string) (domain.TokenStream, error) {
	c, err := g.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	return &wordStream{ctx: ctx, words: strings.SplitAfter(c.Text, " ")}, nil
}

type candidate struct {
	text   string
	source int
	order  int
	score  int
}

func (g *Generator) answer(p domain.Prompt) string {
	terms := make(map[string]struct{})
	for _, t := range domain.Tokenize(p.Question) {
		if utf8.RuneCountInString(t) >= minTermLen {
			terms[t] = struct{}{}
		}
	}

	var cands []candidate
	for i, src := range p.Sources {
		for _, s := range sentences(src) {
			score := 0
			seen := make(map[string]struct{})
			for _, t := range domain.Tokenize(s) {
				if _, ok := terms[t]; !ok {
					continue
				}
				if _, dup := seen[t]; dup {
					continue
				}
				seen[t] = struct{}{}
				score++
			}
			if score > 0 {
				cands = append(cands, candidate{text: s, source: i + 1, order: len(cands), score: score})
			}
		}
	}
	if len(cands) == 0 {
		return NoAnswer
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > g.maxSentences {
		cands = cands[:g.maxSentences]
	}
	// Quote in document order so the answer reads naturally.
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].order < cands[j].order })

	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = fmt.Sprintf("%s [Source %d]", c.text, c.source)
	}
	return strings.Join(parts, " ")
}

// sentences splits text after '.', '!' or '?' followed by whitespace, and at blank lines.
func sentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	flush := func() {
		if s := strings.Join(strings.Fields(b.String()), " "); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for i, r := range runes {
		b.WriteRune(r)
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch {
		case (r == '.' || r == '!' || r == '?') && (next == 0 || unicode.IsSpace(next)):
			flush()
		case r == '\n' && next == '\n':
			flush()
		}
	}
	flush()
	return out
}

type wordStream struct {
	ctx   context.Context
	words []string
	pos   int
}

func (s *wordStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", fmt.Errorf("extractive stream: %w: %w", domain.ErrGenerationProviderError, err)
	}
	for s.pos < len(s.words) {
		w := s.words[s.pos]
		s.pos++
		if w != "" {
			return w, nil
		}
	}
	return "", io.EOF
}

func (s *wordStream) Close() error {
	s.pos = len(s.words)
	return nil
}
