package ragvault

import "github.com/kailas-cloud/ragvault/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput            = domain.ErrInvalidInput
	ErrExtraction              = domain.ErrExtraction
	ErrEmptyDocument           = domain.ErrEmptyDocument
	ErrChunking                = domain.ErrChunking
	ErrPersistence             = domain.ErrPersistence
	ErrEmbeddingProviderError  = domain.ErrEmbeddingProviderError
	ErrGenerationProviderError = domain.ErrGenerationProviderError
	ErrNoDocuments             = domain.ErrNoDocuments
	ErrDocumentNotFound        = domain.ErrDocumentNotFound
	ErrDuplicateDocument       = domain.ErrDuplicateDocument
	ErrVectorDimMismatch       = domain.ErrVectorDimMismatch
	ErrRateLimited             = domain.ErrRateLimited
)

// ErrorKind returns a stable machine-readable kind for err, e.g. "empty_document".
func ErrorKind(err error) string {
	return domain.ErrorKind(err)
}
