// Package upload stores raw uploaded documents under the upload directory,
// one file per document named {document_id}_{filename}.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kailas-cloud/ragvault/internal/db/file"
	"github.com/kailas-cloud/ragvault/internal/domain"
)

const (
	defaultName   = "document"
	stagingPrefix = ".staging-"
)

// Store reads and writes uploaded files.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// FileName returns the stored name for a document: {documentID}_{base(filename)}.
// An empty filename becomes "document".
func FileName(documentID, filename string) string {
	return documentID + "_" + cleanName(filename)
}

// OriginalName strips the {documentID}_ prefix from a stored name.
func OriginalName(documentID, stored string) string {
	return strings.TrimPrefix(filepath.Base(stored), documentID+"_")
}

// Stage writes data for documentID under a hidden name next to its final one and returns
// both relative names. Nothing visible changes until Commit. The staged name keeps the
// original extension so format detection works on it.
func (s *Store) Stage(ctx context.Context, documentID, filename string, data []byte) (staged, rel string, err error) {
	if err := domain.ValidateDocumentID(documentID); err != nil {
		return "", "", err
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	rel = FileName(documentID, filename)
	staged = stagingPrefix + uuid.NewString()[:8] + "-" + rel
	if err := file.WriteAtomic(s.Path(staged), data, 0o600); err != nil {
		return "", "", fmt.Errorf("%w: stage upload %s: %w", domain.ErrPersistence, rel, err)
	}
	return staged, rel, nil
}

// Commit moves a staged upload to its final name, overwriting any previous upload
// with the same name.
func (s *Store) Commit(staged, rel string) error {
	if err := os.Rename(s.Path(staged), s.Path(rel)); err != nil {
		return fmt.Errorf("%w: commit upload %s: %w", domain.ErrPersistence, rel, err)
	}
	return nil
}

// Discard removes a staged upload. A missing file is not an error.
func (s *Store) Discard(staged string) error {
	if err := os.Remove(s.Path(staged)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard upload %s: %w", staged, err)
	}
	return nil
}

// Path resolves a relative stored name to a path inside the upload directory.
func (s *Store) Path(rel string) string {
	return filepath.Join(s.dir, filepath.Base(rel))
}

// Locate finds the stored file of documentID. It tries sourcePath, then {documentID}_{filename},
// then any file matching {documentID}_* (first in lexical order).
// It returns the relative stored name.
func (s *Store) Locate(documentID, filename, sourcePath string) (string, error) {
	if err := domain.ValidateDocumentID(documentID); err != nil {
		return "", err
	}

	var candidates []string
	if sourcePath != "" {
		candidates = append(candidates, filepath.Base(sourcePath))
	}
	if filename != "" {
		candidates = append(candidates, FileName(documentID, filename))
	}
	for _, rel := range candidates {
		if info, err := os.Stat(s.Path(rel)); err == nil && info.Mode().IsRegular() {
			return rel, nil
		}
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, escapeGlob(documentID)+"_*"))
	if err != nil {
		return "", fmt.Errorf("glob uploads: %w", err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if strings.Contains(filepath.Base(m), ".tmp-") {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return filepath.Base(m), nil
		}
	}
	return "", fmt.Errorf("%w: no stored file for %s", domain.ErrDocumentNotFound, documentID)
}

func cleanName(filename string) string {
	name := strings.ReplaceAll(filename, `\`, "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r == 0 || r == '/' {
			return -1
		}
		return r
	}, name)
	switch strings.TrimSpace(name) {
	case "", ".", "..":
		return defaultName
	}
	return name
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
