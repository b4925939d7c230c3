package ragvault

import (
	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/usecase/answer"
)

// NoDocumentsAnswer is returned by Query when the user has no matching chunks.
const NoDocumentsAnswer = answer.NoDocumentsAnswer

// DuplicatePolicy decides what re-ingesting a known document id does.
type DuplicatePolicy = domain.DuplicatePolicy

const (
	// DuplicateAppend keeps both versions retrievable.
	DuplicateAppend = domain.DuplicateAppend
	// DuplicateReject fails the ingestion with ErrDuplicateDocument.
	DuplicateReject = domain.DuplicateReject
	// DuplicateReplace hides the previous version.
	DuplicateReplace = domain.DuplicateReplace
)

// Document is one upload. Format is detected from ContentType, then the Filename extension.
type Document struct {
	ID          string
	UserID      string
	Title       string
	Notes       string
	Filename    string
	ContentType string
	Content     []byte
}

// Receipt describes a completed ingestion.
type Receipt struct {
	DocumentID    string
	ChunkCount    int
	TokenEstimate int
	FilePath      string // relative to the upload directory
	Replaced      bool
}

// Question is asked on behalf of one user. TopK <= 0 uses the configured default.
type Question struct {
	Text   string
	UserID string
	TopK   int
}

// Chunk is one retrieved piece of a document.
type Chunk struct {
	Text           string
	Title          string
	DocumentID     string
	ChunkIndex     int
	RelevanceScore float64
}

// Citation names a document an answer is based on.
type Citation struct {
	Title      string
	DocumentID string
}

// Answer is a batched answer. Error is set when generation failed; Chunks and Citations
// are populated in that case too.
type Answer struct {
	Text       string
	Chunks     []Chunk
	Citations  []Citation
	TokensUsed int // zero when unknown
	Error      string
}

// EventType names a streamed answer event.
type EventType string

const (
	EventCitations EventType = "citations"
	EventToken     EventType = "token"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one element of a streamed answer: citations first, then tokens, then done or error.
type Event struct {
	Type      EventType
	Citations []Citation
	Token     string
	Err       error // set for EventError; use errors.Is with the Err* sentinels
	Message   string
}

// Preview is the extracted text of a stored document.
type Preview struct {
	Content     string
	ContentType string
	Filename    string
}

func chunksFromDomain(in []domain.RetrievedChunk) []Chunk {
	out := make([]Chunk, len(in))
	for i, c := range in {
		out[i] = Chunk{
			Text:           c.Text,
			Title:          c.Title,
			DocumentID:     c.DocumentID,
			ChunkIndex:     c.ChunkIndex,
			RelevanceScore: c.RelevanceScore,
		}
	}
	return out
}

func citationsFromDomain(in []domain.Citation) []Citation {
	out := make([]Citation, len(in))
	for i, c := range in {
		out[i] = Citation{Title: c.Title, DocumentID: c.DocumentID}
	}
	return out
}

func answerFromDomain(a domain.Answer) Answer {
	out := Answer{
		Text:      a.Answer,
		Chunks:    chunksFromDomain(a.Chunks),
		Citations: citationsFromDomain(a.Citations),
		Error:     a.Error,
	}
	if a.TokensUsed != nil {
		out.TokensUsed = *a.TokensUsed
	}
	return out
}

func eventFromDomain(ev domain.Event) Event {
	out := Event{Type: EventType(ev.Type), Token: ev.Token, Err: ev.Err, Message: ev.Message}
	if ev.Type == domain.EventCitations {
		out.Citations = citationsFromDomain(ev.Citations)
	}
	if ev.Type == domain.EventError && out.Message == "" && ev.Err != nil {
		out.Message = ev.Err.Error()
	}
	return out
}
