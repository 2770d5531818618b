// Package extract provides text extraction from paper and document formats.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrUnsupportedFormat is returned for file extensions with no extractor.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// DefaultMaxFileSize bounds how much of a single file is read into memory.
const DefaultMaxFileSize int64 = 200 << 20

// Extractor extracts plain text from document files.
type Extractor struct {
	logger      *zap.Logger
	maxFileSize int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets a logger for skipped pages and sheets.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(e *Extractor) { e.maxFileSize = n }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported reports whether ext (with leading dot, any case) has an extractor.
func (e *Extractor) Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".xlsx", ".txt", ".md", ".rst":
		return true
	}
	return false
}

// Extract reads the file at path and returns its text content.
// Returns an error if the file is missing, too large, or in an unsupported format.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !e.Supported(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", path)
	}
	if e.maxFileSize > 0 && info.Size() > e.maxFileSize {
		return "", fmt.Errorf("file %s is %d bytes, limit is %d", path, info.Size(), e.maxFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return e.extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".txt", ".md", ".rst":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}
