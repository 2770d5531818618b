package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// extractPDF returns the text of every readable page, pages separated by form feeds.
// Unreadable pages are skipped; a PDF with no readable page is an error.
func (e *Extractor) extractPDF(content []byte) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	pages := make([]string, 0, numPages)
	var lastErr error
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			lastErr = err
			if e.logger != nil {
				e.logger.Warn("skipping unreadable PDF page", zap.Int("page", i), zap.Error(err))
			}
			continue
		}
		pages = append(pages, pageText)
	}
	if len(pages) == 0 && lastErr != nil {
		return "", fmt.Errorf("extract PDF: no readable pages: %w", lastErr)
	}
	return strings.Join(pages, "\f"), nil
}
