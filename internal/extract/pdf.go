package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/logger"
)

// extractPDF joins per-page text with newlines. A page without a text layer, or one whose
// content stream fails to decode, contributes an empty string.
func extractPDF(ctx context.Context, path string) (text string, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	n := reader.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		txt, pageErr := pageText(reader, i)
		if pageErr != nil {
			logger.FromContext(ctx).Debug("pdf page skipped", zap.Int("page", i), zap.Error(pageErr))
		}
		pages = append(pages, txt)
	}
	return strings.Join(pages, "\n"), nil
}

func pageText(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page %d: %v", num, r)
		}
	}()

	page := reader.Page(num)
	if page.V.IsNull() {
		return "", errors.New("missing page object")
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	return text, nil
}
