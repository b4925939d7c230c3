package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeBadRequest   = "bad_request"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal_error"
)

var errorHandlers = []errorHandler{
	sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest),
	sentinelHandler(domain.ErrEmptyDocument, http.StatusBadRequest),
	sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound),
	sentinelHandler(domain.ErrNoDocuments, http.StatusNotFound),
	sentinelHandler(domain.ErrDuplicateDocument, http.StatusConflict),
	sentinelHandler(domain.ErrExtraction, http.StatusUnprocessableEntity),
	sentinelHandler(domain.ErrChunking, http.StatusUnprocessableEntity),
	sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests),
	sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway),
	sentinelHandler(domain.ErrGenerationProviderError, http.StatusBadGateway),
	sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadGateway),
	sentinelHandler(domain.ErrPersistence, http.StatusServiceUnavailable),
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a client-safe message. Invalid input keeps its detail since it
// describes the caller's request; other errors are reduced to their sentinel text.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidInput) {
		return err.Error()
	}
	for _, s := range []error{
		domain.ErrEmptyDocument,
		domain.ErrDocumentNotFound,
		domain.ErrNoDocuments,
		domain.ErrDuplicateDocument,
		domain.ErrExtraction,
		domain.ErrChunking,
		domain.ErrRateLimited,
		domain.ErrEmbeddingProviderError,
		domain.ErrGenerationProviderError,
		domain.ErrVectorDimMismatch,
		domain.ErrPersistence,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int) errorHandler {
	code := domain.ErrorKind(sentinel)
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
