package domain

import (
	"errors"
)

var (
	// ErrInvalidInput signals a malformed request (missing ids, bad filename, empty query).
	ErrInvalidInput = errors.New("invalid input")
	// ErrExtraction signals a source file that cannot be opened or parsed at all.
	ErrExtraction = errors.New("extraction failed")
	// ErrEmptyDocument signals a document that decodes but yields no text.
	ErrEmptyDocument = errors.New("document has no extractable text")
	// ErrChunking signals that non-empty text produced zero chunks.
	ErrChunking = errors.New("chunking produced no chunks")
	// ErrPersistence signals a failed write of an upload or of the index snapshot.
	ErrPersistence = errors.New("persistence failed")
	// ErrEmbeddingProviderError signals an embedding provider failure or timeout.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrGenerationProviderError signals a generation model failure or timeout.
	ErrGenerationProviderError = errors.New("generation provider error")
	// ErrNoDocuments signals that retrieval found no chunks owned by the caller.
	ErrNoDocuments = errors.New("no documents found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDuplicateDocument signals an already indexed document_id under the reject policy,
	// or one owned by another user under any policy.
	ErrDuplicateDocument = errors.New("document already ingested")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrExtraction, "extraction_error"},
	{ErrEmptyDocument, "empty_document"},
	{ErrChunking, "chunking_error"},
	{ErrPersistence, "persistence_error"},
	{ErrEmbeddingProviderError, "embedding_error"},
	{ErrGenerationProviderError, "generation_error"},
	{ErrNoDocuments, "no_documents"},
	{ErrDocumentNotFound, "not_found"},
	{ErrDuplicateDocument, "duplicate_document"},
	{ErrVectorDimMismatch, "dimension_mismatch"},
	{ErrRateLimited, "rate_limited"},
}

// ErrorKind returns a stable machine-readable kind for err, or "internal" for unknown errors.
// The first matching sentinel in declaration order wins.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
