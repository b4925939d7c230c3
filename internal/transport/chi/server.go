// Package chi exposes the vault over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/logger"
	healthuc "github.com/kailas-cloud/ragvault/internal/usecase/health"
)

const (
	ingestedMessage    = "Document ingested and indexed."
	defaultUploadLimit = 32 << 20
	formMemory         = 8 << 20
)

// Server holds the HTTP handlers of the vault API.
type Server struct {
	ingest         Ingester
	answers        Answerer
	documents      Previewer
	health         HealthReporter
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewServer creates an HTTP API server.
func NewServer(
	ingest Ingester,
	answers Answerer,
	documents Previewer,
	health HealthReporter,
	logger *zap.Logger,
) *Server {
	return &Server{
		ingest:         ingest,
		answers:        answers,
		documents:      documents,
		health:         health,
		logger:         logger,
		maxUploadBytes: defaultUploadLimit,
	}
}

// WithMaxUploadBytes caps the multipart request body size.
func (s *Server) WithMaxUploadBytes(n int64) *Server {
	if n > 0 {
		s.maxUploadBytes = n
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/api/v1/vault", func(r chi.Router) {
		r.Post("/ingest", s.IngestDocument)
		r.Post("/upload", s.IngestDocument)
		r.Post("/query", s.Query)
		r.Post("/query-stream", s.QueryStream)
		r.Get("/preview/{documentId}", s.PreviewDocument)
	})
}

type ingestResponse struct {
	DocumentID    string `json:"documentId"`
	ChunkCount    int    `json:"chunkCount"`
	TokenEstimate int    `json:"tokenEstimate"`
	FilePath      string `json:"filePath"`
	Replaced      bool   `json:"replaced"`
	Message       string `json:"message"`
}

// IngestDocument handles POST /api/v1/vault/ingest (multipart form).
func (s *Server) IngestDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "file is required")
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid file: "+err.Error())
		return
	}

	upload := domain.Upload{
		Content:     content,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		DocumentID:  r.FormValue("documentId"),
		UserID:      r.FormValue("userId"),
		Title:       r.FormValue("title"),
		Notes:       r.FormValue("notes"),
	}

	logger.AddFields(r.Context(),
		zap.String("document_id", upload.DocumentID),
		zap.String("user_id", upload.UserID),
		zap.Int("file_bytes", len(content)),
	)

	ctx, usage := domain.NewContextWithUsage(r.Context())
	receipt, err := s.ingest.Ingest(ctx, upload)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	logger.AddFields(r.Context(), zap.Int("chunk_count", receipt.ChunkCount), zap.Bool("replaced", receipt.Replaced))

	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, ingestResponse{
		DocumentID:    receipt.DocumentID,
		ChunkCount:    receipt.ChunkCount,
		TokenEstimate: receipt.TokenEstimate,
		FilePath:      receipt.FilePath,
		Replaced:      receipt.Replaced,
		Message:       ingestedMessage,
	})
}

type queryRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	TopK   int    `json:"top_k"`
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (domain.Query, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return domain.Query{}, false
	}
	logger.AddFields(r.Context(), zap.String("user_id", req.UserID), zap.Int("top_k", req.TopK))
	return domain.Query{Text: req.Query, UserID: req.UserID, TopK: req.TopK}, true
}

// Query handles POST /api/v1/vault/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	answer, err := s.answers.Answer(ctx, q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	logger.AddFields(r.Context(), zap.Int("chunks", len(answer.Chunks)))

	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, answer)
}

// QueryStream handles POST /api/v1/vault/query-stream. Events are written as NDJSON, or as
// server-sent events when the client accepts text/event-stream. Each event is flushed.
func (s *Server) QueryStream(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	events, err := s.answers.Stream(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := logger.FromContext(r.Context())
	logger.AddFields(r.Context(), zap.Bool("sse", sse))
	for ev := range events {
		if ev.Type == domain.EventError {
			logger.AddFields(r.Context(), zap.String("stream_error", domain.ErrorKind(ev.Err)))
		}
		line, err := json.Marshal(ev)
		if err != nil {
			log.Error("encode stream event", zap.Error(err))
			continue
		}
		if sse {
			_, err = fmt.Fprintf(w, "data: %s\n\n", line)
		} else {
			_, err = fmt.Fprintf(w, "%s\n", line)
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			// Returning cancels r.Context(), which stops the producer.
			log.Debug("stream write failed", zap.Error(err))
			return
		}
	}
}

type previewResponse struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
}

// PreviewDocument handles GET /api/v1/vault/preview/{documentId}.
func (s *Server) PreviewDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentId")
	userID := r.URL.Query().Get("user_id")
	filename := r.URL.Query().Get("filename")
	logger.AddFields(r.Context(), zap.String("document_id", documentID), zap.String("user_id", userID))

	p, err := s.documents.Preview(r.Context(), documentID, userID, filename)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		Content:     p.Content,
		ContentType: p.ContentType,
		Filename:    p.Filename,
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func setUsageHeaders(w http.ResponseWriter, usage *domain.Usage) {
	if tokens, used := usage.EmbeddingTokens(); used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(tokens))
	}
	if tokens := usage.GenerationTokens(); tokens > 0 {
		w.Header().Set("X-Generation-Tokens", strconv.Itoa(tokens))
	}
}
