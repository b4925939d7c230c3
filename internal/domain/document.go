package domain

import (
	"fmt"
	"strings"
)

// Metadata is attached to every index entry and identifies the chunk's origin.
type Metadata struct {
	DocumentID string
	UserID     string
	ChunkIndex int
	Title      string
	Notes      string
	SourcePath string // relative to the upload directory
}

// Entry is the persisted unit of the vector index. Entries are immutable once written.
type Entry struct {
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Upload is one document handed to the ingestion pipeline.
type Upload struct {
	Content     []byte
	Filename    string
	ContentType string
	DocumentID  string
	UserID      string
	Title       string
	Notes       string
}

// Validate checks required fields. DocumentID becomes part of a file name,
// so path separators and dot segments are rejected.
func (u Upload) Validate() error {
	switch {
	case strings.TrimSpace(u.DocumentID) == "":
		return fmt.Errorf("%w: document_id is required", ErrInvalidInput)
	case strings.TrimSpace(u.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	case strings.TrimSpace(u.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	return ValidateDocumentID(u.DocumentID)
}

// ValidateDocumentID rejects ids that cannot be used as a file name prefix.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: document_id is required", ErrInvalidInput)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: document_id %q contains path characters", ErrInvalidInput, id)
	}
	return nil
}

// Receipt is returned by a successful ingestion.
type Receipt struct {
	DocumentID    string
	ChunkCount    int
	TokenEstimate int
	FilePath      string // relative to the upload directory
	Replaced      bool   // a previous ingestion of DocumentID was superseded
}

// Preview is the extracted text of a stored document.
type Preview struct {
	Content     string
	ContentType string
	Filename    string
}

// EstimateTokens approximates a token count as ceil(chars/4), counting runes.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// DuplicatePolicy decides what ingesting an already indexed document_id does.
type DuplicatePolicy string

const (
	// DuplicateAppend keeps earlier entries; both versions are retrievable.
	DuplicateAppend DuplicatePolicy = "append"
	// DuplicateReject fails the ingestion with ErrDuplicateDocument.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateReplace hides earlier entries behind a tombstone in the same save.
	DuplicateReplace DuplicatePolicy = "replace"
)

// ParseDuplicatePolicy converts a config value. Empty means DuplicateReplace.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(s); p {
	case "":
		return DuplicateReplace, nil
	case DuplicateAppend, DuplicateReject, DuplicateReplace:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown duplicate policy %q", ErrInvalidInput, s)
	}
}
