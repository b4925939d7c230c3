// Package extract converts stored documents into plain text.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/logger"
)

// Format is a supported source document format.
type Format string

const (
	FormatText Format = "text"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Detect picks the format by declared MIME type first, then by file extension.
// Anything unrecognized is plain text.
func Detect(path, contentType string) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return FormatPDF
	case strings.Contains(ct, "wordprocessingml"):
		return FormatDOCX
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	}
	return FormatText
}

// ContentType returns the MIME type reported for previews.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return docxMIME
	default:
		return "text/plain"
	}
}

// Extractor reads a file from disk and returns its text.
type Extractor struct{}

// New creates an extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the text of the file at path. It fails with domain.ErrExtraction only when
// the file cannot be opened or its container cannot be parsed. Empty text is not an error.
func (e *Extractor) Extract(ctx context.Context, path, contentType string) (string, error) {
	format := Detect(path, contentType)

	var (
		text string
		err  error
	)
	switch format {
	case FormatPDF:
		text, err = extractPDF(ctx, path)
	case FormatDOCX:
		text, err = extractDOCX(path)
	default:
		text, err = extractText(path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %w", domain.ErrExtraction, format, filepath.Base(path), err)
	}

	logger.FromContext(ctx).Debug("text extracted",
		zap.String("format", string(format)),
		zap.String("file", filepath.Base(path)),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

// extractText decodes the file as UTF-8, dropping invalid bytes and a leading BOM.
func extractText(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	text := strings.ToValidUTF8(string(data), "")
	return strings.TrimPrefix(text, "\ufeff"), nil
}
