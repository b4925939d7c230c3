package domain

import "context"

// Completion is a batched model answer with optional usage.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// TokenStream yields incremental answer fragments. Recv returns io.EOF after the last fragment.
// Close releases the upstream connection and may be called at any point.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Generator is the external text-completion capability.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (Completion, error)
	Stream(ctx context.Context, systemPrompt, userPrompt string) (TokenStream, error)
}
