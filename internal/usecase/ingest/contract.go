package ingest

import (
	"context"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// FileStore persists uploaded bytes. A staged upload replaces the stored one only on Commit.
type FileStore interface {
	Stage(ctx context.Context, documentID, filename string, data []byte) (staged, rel string, err error)
	Commit(staged, rel string) error
	Discard(staged string) error
	Path(rel string) string
}

// Extractor converts a stored file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path, contentType string) (string, error)
}

// Splitter cuts text into overlapping chunks.
type Splitter interface {
	Split(text string) []string
}

// Index is the single-writer vector index.
type Index interface {
	Owner(ctx context.Context, documentID string) (userID string, ok bool, err error)
	Append(
		ctx context.Context, userID, documentID string, entries []domain.Entry, policy domain.DuplicatePolicy,
	) (bool, error)
}
