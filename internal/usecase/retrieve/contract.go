package retrieve

import (
	"context"

	"github.com/kailas-cloud/ragvault/internal/repository/index"
)

// Searcher ranks index entries against a query vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error)
}
