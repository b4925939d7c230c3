// Package ingest turns one uploaded document into persisted index entries.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/extract"
	"github.com/kailas-cloud/ragvault/internal/metrics"
)

// Service runs store → extract → chunk → embed → index for one upload.
type Service struct {
	files     FileStore
	extractor Extractor
	splitter  Splitter
	embedder  domain.Embedder
	index     Index
	policy    domain.DuplicatePolicy
	logger    *zap.Logger
}

// New creates an ingestion service. The embedder should be the document-side chain.
func New(
	files FileStore, extractor Extractor, splitter Splitter,
	embedder domain.Embedder, index Index, logger *zap.Logger,
) *Service {
	return &Service{
		files:     files,
		extractor: extractor,
		splitter:  splitter,
		embedder:  embedder,
		index:     index,
		policy:    domain.DuplicateReplace,
		logger:    logger,
	}
}

// WithDuplicatePolicy sets what re-ingesting a known document_id does.
func (s *Service) WithDuplicatePolicy(p domain.DuplicatePolicy) *Service {
	if p != "" {
		s.policy = p
	}
	return s
}

// Ingest stores, extracts, chunks, embeds and indexes one document. The index is
// persisted before Ingest returns; on any error no entries become visible and the
// previously stored upload of the document is left in place. A document_id belongs to
// the user who first ingested it.
func (s *Service) Ingest(ctx context.Context, u domain.Upload) (receipt domain.Receipt, err error) {
	start := time.Now()
	format := extract.Detect(u.Filename, u.ContentType)
	defer func() {
		status := "ok"
		if err != nil {
			status = domain.ErrorKind(err)
		}
		metrics.IngestionsTotal.WithLabelValues(string(format), status).Inc()
		metrics.IngestionDuration.Observe(time.Since(start).Seconds())
	}()

	if err := u.Validate(); err != nil {
		return domain.Receipt{}, err
	}

	owner, exists, err := s.index.Owner(ctx, u.DocumentID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("check document: %w", err)
	}
	if exists && owner != u.UserID {
		return domain.Receipt{}, fmt.Errorf("%w: %s is owned by another user", domain.ErrDuplicateDocument, u.DocumentID)
	}
	if exists && s.policy == domain.DuplicateReject {
		return domain.Receipt{}, fmt.Errorf("%w: %s", domain.ErrDuplicateDocument, u.DocumentID)
	}

	staged, rel, err := s.files.Stage(ctx, u.DocumentID, u.Filename, u.Content)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("store upload: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := s.files.Discard(staged); err != nil {
			s.logger.Warn("Failed to discard staged upload", zap.String("file", staged), zap.Error(err))
		}
	}()

	text, err := s.extractor.Extract(ctx, s.files.Path(staged), u.ContentType)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.Receipt{}, fmt.Errorf("%w: %s", domain.ErrEmptyDocument, u.DocumentID)
	}

	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return domain.Receipt{}, fmt.Errorf("%w: no chunks for %s", domain.ErrChunking, u.DocumentID)
	}

	res, err := domain.EmbedAll(ctx, s.embedder, chunks)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("embed chunks: %w", err)
	}

	entries := make([]domain.Entry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = domain.Entry{
			Vector: res.Embeddings[i],
			Text:   chunk,
			Metadata: domain.Metadata{
				DocumentID: u.DocumentID,
				UserID:     u.UserID,
				ChunkIndex: i,
				Title:      u.Title,
				Notes:      u.Notes,
				SourcePath: rel,
			},
		}
	}

	replaced, err := s.index.Append(ctx, u.UserID, u.DocumentID, entries, s.policy)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("index entries: %w", err)
	}

	// The entries are durable; a failed rename leaves them pointing at the previous upload.
	if err := s.files.Commit(staged, rel); err != nil {
		s.logger.Error("Failed to commit upload",
			zap.String("document_id", u.DocumentID), zap.String("file", rel), zap.Error(err))
	} else {
		committed = true
	}

	metrics.IngestedChunks.Observe(float64(len(chunks)))
	s.logger.Info("Document ingested",
		zap.String("document_id", u.DocumentID),
		zap.String("user_id", u.UserID),
		zap.String("format", string(format)),
		zap.Int("chunks", len(chunks)),
		zap.Bool("replaced", replaced),
		zap.Duration("duration", time.Since(start)),
	)

	return domain.Receipt{
		DocumentID:    u.DocumentID,
		ChunkCount:    len(chunks),
		TokenEstimate: domain.EstimateTokens(text),
		FilePath:      rel,
		Replaced:      replaced,
	}, nil
}
