package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SystemPrompt instructs the model to answer only from the supplied sources.
const SystemPrompt = `You are a helpful assistant. Answer the user's question based on the provided context from their uploaded documents.

IMPORTANT:
- Only use information from the provided sources
- If the context doesn't contain the answer, say so clearly
- Cite sources using [Source N] format when referencing information
- Be concise but comprehensive`

const (
	contextHeader  = "Context from user's documents:\n"
	questionHeader = "\n\nUser's question: "
	promptFooter   = "\n\nAnswer the question based on the context above. Include [Source N] citations."
)

// Prompt is the grounded user prompt: numbered sources plus the question.
type Prompt struct {
	Sources  []string // Sources[i] is rendered as [Source i+1]
	Question string
}

// NewPrompt numbers the chunks in rank order.
func NewPrompt(question string, chunks []RetrievedChunk) Prompt {
	p := Prompt{Question: question, Sources: make([]string, len(chunks))}
	for i, c := range chunks {
		p.Sources[i] = c.Text
	}
	return p
}

// Context renders the sources as "[Source N] text" blocks separated by blank lines.
func (p Prompt) Context() string {
	parts := make([]string, len(p.Sources))
	for i, s := range p.Sources {
		parts[i] = fmt.Sprintf("[Source %d] %s", i+1, s)
	}
	return strings.Join(parts, "\n\n")
}

// String renders the user prompt sent to the model.
func (p Prompt) String() string {
	return contextHeader + p.Context() + questionHeader + p.Question + promptFooter
}

// ParsePrompt recovers a Prompt from its rendered form. Local generators use it
// to work on the same input a remote model receives.
func ParsePrompt(s string) (Prompt, bool) {
	body, ok := strings.CutPrefix(s, contextHeader)
	if !ok {
		return Prompt{}, false
	}
	body, ok = strings.CutSuffix(body, promptFooter)
	if !ok {
		return Prompt{}, false
	}
	i := strings.LastIndex(body, questionHeader)
	if i < 0 {
		return Prompt{}, false
	}
	ctx, question := body[:i], body[i+len(questionHeader):]

	var sources []string
	for n := 1; ; n++ {
		tag := "[Source " + strconv.Itoa(n) + "] "
		start := strings.Index(ctx, tag)
		if start < 0 {
			break
		}
		rest := ctx[start+len(tag):]
		end := strings.Index(rest, "\n\n[Source "+strconv.Itoa(n+1)+"] ")
		if end < 0 {
			sources = append(sources, rest)
			break
		}
		sources = append(sources, rest[:end])
		ctx = rest[end:]
	}
	return Prompt{Sources: sources, Question: question}, true
}

// Tokenize lower-cases text and splits it into runs of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
