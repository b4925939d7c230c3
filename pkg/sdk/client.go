package ragvault

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/chunker"
	"github.com/kailas-cloud/ragvault/internal/db"
	dbRedis "github.com/kailas-cloud/ragvault/internal/db/redis"
	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/extract"
	"github.com/kailas-cloud/ragvault/internal/repository/embcache"
	"github.com/kailas-cloud/ragvault/internal/repository/index"
	"github.com/kailas-cloud/ragvault/internal/repository/upload"
	"github.com/kailas-cloud/ragvault/internal/transport/extractive"
	"github.com/kailas-cloud/ragvault/internal/transport/hashing"
	answeruc "github.com/kailas-cloud/ragvault/internal/usecase/answer"
	documentuc "github.com/kailas-cloud/ragvault/internal/usecase/document"
	embeddinguc "github.com/kailas-cloud/ragvault/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragvault/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragvault/internal/usecase/ingest"
	retrieveuc "github.com/kailas-cloud/ragvault/internal/usecase/retrieve"
)

const (
	defaultBaseDir          = "data"
	defaultChunkSize        = 800
	defaultChunkOverlap     = 200
	defaultReadinessTimeout = 10 * time.Second
)

// Internal interfaces, replaced by mocks in tests.
type ingestUseCase interface {
	Ingest(ctx context.Context, u domain.Upload) (domain.Receipt, error)
}

type retrieveUseCase interface {
	Retrieve(ctx context.Context, q domain.Query) ([]domain.RetrievedChunk, error)
}

type answerUseCase interface {
	Answer(ctx context.Context, q domain.Query) (domain.Answer, error)
	Stream(ctx context.Context, q domain.Query) (<-chan domain.Event, error)
}

type documentUseCase interface {
	Preview(ctx context.Context, documentID, userID, filename string) (domain.Preview, error)
}

// Client is the ragvault SDK entry point. It is safe for concurrent use.
type Client struct {
	cache       db.Store
	ingestSvc   ingestUseCase
	retrieveSvc retrieveUseCase
	answerSvc   answerUseCase
	docSvc      documentUseCase
	healthSvc   healthUseCase
	obs         *observer
}

// New creates a Client over the vault in the configured base directory and loads its index.
// The provided context bounds the index load and the cache readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		baseDir:      defaultBaseDir,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
		policy:       DuplicateReplace,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	policy, err := domain.ParseDuplicatePolicy(string(cfg.policy))
	if err != nil {
		return nil, fmt.Errorf("ragvault: %w", err)
	}
	splitter, err := chunker.NewRecursiveSplitter(cfg.chunkSize, cfg.chunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("ragvault: %w", err)
	}

	if cfg.embedder == nil {
		h := hashing.New(cfg.dimensions)
		cfg.embedder, cfg.provider, cfg.dimensions = h, "hashing", h.Dimensions()
		cfg.model = fmt.Sprintf("hashing-%d", h.Dimensions())
	}
	if cfg.dimensions <= 0 {
		return nil, errors.New("ragvault: embedding dimensions required")
	}
	if cfg.generator == nil {
		cfg.generator = extractive.New(extractive.DefaultMaxSentences)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	var cache db.Store
	if len(cfg.cacheAddrs) > 0 {
		s, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.cacheAddrs, Password: cfg.cachePassword})
		if err != nil {
			return nil, fmt.Errorf("ragvault: create cache store: %w", err)
		}
		if err := s.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			s.Close()
			return nil, fmt.Errorf("ragvault: cache not ready: %w", err)
		}
		cache = s
	}

	c, err := wireClient(ctx, cfg, policy, splitter, cache, obs)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}
	return c, nil
}

func wireClient(
	ctx context.Context,
	cfg *clientConfig,
	policy domain.DuplicatePolicy,
	splitter *chunker.RecursiveSplitter,
	cache db.Store,
	obs *observer,
) (*Client, error) {
	// Internal services log through zap; SDK operations are reported by the observer.
	log := zap.NewNop()

	idx := index.NewStore(filepath.Join(cfg.baseDir, "vector_index"), cfg.dimensions, log)
	if _, err := idx.Snapshot(ctx); err != nil {
		return nil, fmt.Errorf("ragvault: load index: %w", err)
	}
	files := upload.NewStore(filepath.Join(cfg.baseDir, "uploads"))
	extractor := extract.New()

	embedder := buildEmbedder(cfg, cache, log)

	retrieveSvc := retrieveuc.New(embedder, idx, retrieveuc.Options{
		DefaultTopK:     cfg.defaultTopK,
		MaxTopK:         cfg.maxTopK,
		OverfetchFactor: cfg.overfetch,
	}, log)

	var cachePinger healthuc.CachePinger
	if cache != nil {
		cachePinger = cache
	}

	return &Client{
		cache:       cache,
		ingestSvc:   ingestuc.New(files, extractor, splitter, embedder, idx, log).WithDuplicatePolicy(policy),
		retrieveSvc: retrieveSvc,
		answerSvc:   answeruc.New(retrieveSvc, cfg.generator, answeruc.Options{}, log),
		docSvc:      documentuc.New(idx, files, extractor, log),
		healthSvc: healthuc.New(idx, cachePinger,
			healthCheckerOf(cfg.embedder), healthCheckerOf(cfg.generator)),
		obs: obs,
	}, nil
}

// buildEmbedder assembles provider -> rate limit -> cache -> instrumented.
func buildEmbedder(cfg *clientConfig, cache db.Store, log *zap.Logger) domain.Embedder {
	embedder := cfg.embedder
	if cfg.rps > 0 {
		embedder = embeddinguc.NewRateLimitedEmbedder(embedder, cfg.rps, cfg.burst)
	}
	if cache != nil {
		embedder = embcache.New(embedder, cache, embcache.Options{
			KeyPrefix:  "ragvault:",
			Namespace:  cfg.model,
			Dimensions: cfg.dimensions,
			TTL:        cfg.cacheTTL,
		}, nil, log)
	}
	return embeddinguc.NewInstrumentedEmbedder(embedder, cfg.provider, cfg.model, embeddinguc.Options{}, log)
}

// healthCheckerOf returns v as a health checker, or nil when it has no health check.
func healthCheckerOf(v any) healthuc.Checker {
	if hc, ok := v.(domain.HealthChecker); ok {
		return hc
	}
	return nil
}

// Close releases the embedding cache connection, if any. The index needs no closing:
// every ingestion is persisted before it returns.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// Ingest stores, chunks, embeds and indexes one document.
func (c *Client) Ingest(ctx context.Context, doc Document) (_ Receipt, err error) {
	start := time.Now()
	defer func() { c.obs.observe("ingest", start, err, "document_id", doc.ID, "user_id", doc.UserID) }()

	r, err := c.ingestSvc.Ingest(ctx, domain.Upload{
		Content:     doc.Content,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		DocumentID:  doc.ID,
		UserID:      doc.UserID,
		Title:       doc.Title,
		Notes:       doc.Notes,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("ingest: %w", err)
	}
	c.obs.ingested(r.ChunkCount, r.Replaced)
	return Receipt{
		DocumentID:    r.DocumentID,
		ChunkCount:    r.ChunkCount,
		TokenEstimate: r.TokenEstimate,
		FilePath:      r.FilePath,
		Replaced:      r.Replaced,
	}, nil
}

// Retrieve returns the user's chunks most similar to the question, best first.
// No match is an empty slice, not an error.
func (c *Client) Retrieve(ctx context.Context, q Question) (_ []Chunk, err error) {
	start := time.Now()
	defer func() { c.obs.observe("retrieve", start, err, "user_id", q.UserID) }()

	chunks, err := c.retrieveSvc.Retrieve(ctx, toQuery(q))
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	return chunksFromDomain(chunks), nil
}

// Query answers the question from the user's documents. A generation failure is reported in
// Answer.Error; only invalid questions and retrieval failures return an error.
func (c *Client) Query(ctx context.Context, q Question) (_ Answer, err error) {
	start := time.Now()
	defer func() { c.obs.observe("query", start, err, "user_id", q.UserID) }()

	a, err := c.answerSvc.Answer(ctx, toQuery(q))
	if err != nil {
		return Answer{}, fmt.Errorf("query: %w", err)
	}
	return answerFromDomain(a), nil
}

// QueryStream answers the question incrementally. The channel is closed after the terminal
// event; cancelling ctx stops generation and closes it early.
func (c *Client) QueryStream(ctx context.Context, q Question) (<-chan Event, error) {
	start := time.Now()

	events, err := c.answerSvc.Stream(ctx, toQuery(q))
	if err != nil {
		c.obs.observe("query_stream", start, err, "user_id", q.UserID)
		return nil, fmt.Errorf("query stream: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		var streamErr error
		defer func() { c.obs.observe("query_stream", start, streamErr, "user_id", q.UserID) }()

		for ev := range events {
			if ev.Type == domain.EventError {
				streamErr = ev.Err
			}
			select {
			case out <- eventFromDomain(ev):
			case <-ctx.Done():
				// The answer producer watches the same ctx and closes events.
				streamErr = ctx.Err()
				return
			}
		}
	}()
	return out, nil
}

// Preview returns the extracted text of a document owned by userID.
// filename is an optional hint for locating the stored file.
func (c *Client) Preview(ctx context.Context, documentID, userID, filename string) (_ Preview, err error) {
	start := time.Now()
	defer func() { c.obs.observe("preview", start, err, "document_id", documentID, "user_id", userID) }()

	p, err := c.docSvc.Preview(ctx, documentID, userID, filename)
	if err != nil {
		return Preview{}, fmt.Errorf("preview: %w", err)
	}
	return Preview{Content: p.Content, ContentType: p.ContentType, Filename: p.Filename}, nil
}

func toQuery(q Question) domain.Query {
	return domain.Query{Text: q.Text, UserID: q.UserID, TopK: q.TopK}
}
