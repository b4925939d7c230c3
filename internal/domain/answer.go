package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Query is a question asked on behalf of one tenant.
type Query struct {
	Text   string
	UserID string
	TopK   int // <= 0 means the configured default
}

// Validate checks required fields.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if strings.TrimSpace(q.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return nil
}

// RetrievedChunk is one ranked retrieval result.
type RetrievedChunk struct {
	Text           string  `json:"text"`
	Title          string  `json:"title"`
	DocumentID     string  `json:"document_id"`
	ChunkIndex     int     `json:"chunk_index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Citation references a source document backing an answer.
type Citation struct {
	Title      string `json:"title"`
	DocumentID string `json:"document_id"`
}

// Citations deduplicates (document_id, title) pairs in first-seen rank order.
func Citations(chunks []RetrievedChunk) []Citation {
	seen := make(map[Citation]struct{}, len(chunks))
	out := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		key := Citation{Title: c.Title, DocumentID: c.DocumentID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Answer is the batched answer to a query. Error is set when generation failed;
// Chunks and Citations are still populated in that case.
type Answer struct {
	Answer     string           `json:"answer"`
	Chunks     []RetrievedChunk `json:"chunks"`
	Citations  []Citation       `json:"citations"`
	TokensUsed *int             `json:"tokens_used,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// EventType names a streaming answer event.
type EventType string

const (
	EventCitations EventType = "citations"
	EventToken     EventType = "token"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one element of a streamed answer: citations, token*, then done or error.
type Event struct {
	Type      EventType
	Citations []Citation
	Token     string
	Err       error
	Message   string // user-facing error text; Err.Error() when empty
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

type eventJSON struct {
	Type    EventType `json:"type"`
	Content any       `json:"content,omitempty"`
	Kind    string    `json:"kind,omitempty"`
}

// MarshalJSON encodes the event as {"type": ..., "content": ...}.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{Type: e.Type}
	switch e.Type {
	case EventCitations:
		citations := e.Citations
		if citations == nil {
			citations = []Citation{}
		}
		out.Content = citations
	case EventToken:
		out.Content = e.Token
	case EventError:
		if e.Err != nil {
			out.Content = e.Err.Error()
			out.Kind = ErrorKind(e.Err)
		}
		if e.Message != "" {
			out.Content = e.Message
		}
	}
	return json.Marshal(out)
}
