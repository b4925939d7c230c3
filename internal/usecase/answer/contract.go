package answer

import (
	"context"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// Retriever returns the caller's most relevant chunks.
type Retriever interface {
	Retrieve(ctx context.Context, q domain.Query) ([]domain.RetrievedChunk, error)
}
