// Package document serves read access to stored uploads.
package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/extract"
)

// EmptyContent replaces a preview whose extracted text is blank.
const EmptyContent = "(Document content is empty or could not be extracted)"

// Service previews documents on behalf of their owners.
type Service struct {
	index     Index
	files     FileLocator
	extractor Extractor
	logger    *zap.Logger
}

// New creates a document service.
func New(index Index, files FileLocator, extractor Extractor, logger *zap.Logger) *Service {
	return &Service{index: index, files: files, extractor: extractor, logger: logger}
}

// Preview returns the extracted text of a document owned by userID. A document that is not
// indexed, or is indexed for another user, is reported as domain.ErrDocumentNotFound.
// filename is an optional hint used when the indexed source path is gone.
func (s *Service) Preview(ctx context.Context, documentID, userID, filename string) (domain.Preview, error) {
	if err := domain.ValidateDocumentID(documentID); err != nil {
		return domain.Preview{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return domain.Preview{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}

	md, ok, err := s.index.Document(ctx, documentID, userID)
	if err != nil {
		return domain.Preview{}, fmt.Errorf("read index: %w", err)
	}
	if !ok || md.UserID != userID {
		return domain.Preview{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}

	rel, err := s.files.Locate(documentID, filename, md.SourcePath)
	if err != nil {
		return domain.Preview{}, fmt.Errorf("locate upload: %w", err)
	}

	path := s.files.Path(rel)
	text, err := s.extractor.Extract(ctx, path, "")
	if err != nil {
		return domain.Preview{}, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		s.logger.Warn("Preview content is empty", zap.String("document_id", documentID), zap.String("file", rel))
		text = EmptyContent
	}

	return domain.Preview{
		Content:     text,
		ContentType: extract.Detect(path, "").ContentType(),
		Filename:    filepath.Base(rel),
	}, nil
}
