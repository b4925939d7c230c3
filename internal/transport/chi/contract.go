package chi

import (
	"context"

	"github.com/kailas-cloud/ragvault/internal/domain"
	healthuc "github.com/kailas-cloud/ragvault/internal/usecase/health"
)

// Ingester runs the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, u domain.Upload) (domain.Receipt, error)
}

// Answerer answers queries, batched or streamed.
type Answerer interface {
	Answer(ctx context.Context, q domain.Query) (domain.Answer, error)
	Stream(ctx context.Context, q domain.Query) (<-chan domain.Event, error)
}

// Previewer returns the extracted text of a stored document.
type Previewer interface {
	Preview(ctx context.Context, documentID, userID, filename string) (domain.Preview, error)
}

// HealthReporter aggregates component health.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}
