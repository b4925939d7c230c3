package document

import (
	"context"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// Index reads document metadata from the vector index.
type Index interface {
	Document(ctx context.Context, documentID, userID string) (domain.Metadata, bool, error)
}

// FileLocator finds stored uploads.
type FileLocator interface {
	Locate(documentID, filename, sourcePath string) (rel string, err error)
	Path(rel string) string
}

// Extractor converts a stored file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path, contentType string) (string, error)
}
