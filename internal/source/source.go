// Package source turns directories and file lists into build inputs.
package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/shiryo/internal/models"
)

// ExtensionAllowed reports whether path has one of extensions (case-insensitive).
// An empty list allows every file.
func ExtensionAllowed(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if e == ext {
			return true
		}
	}
	return false
}

// Dir walks root and returns one document per matching regular file, in lexical path order.
// Source IDs are slash-separated paths relative to root. Hidden files and directories are skipped.
// A missing root yields no documents.
func Dir(root string, extensions []string) ([]models.SourceDocument, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	var docs []models.SourceDocument
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !ExtensionAllowed(path, extensions) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		docs = append(docs, models.SourceDocument{SourceID: filepath.ToSlash(rel), Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return docs, nil
}

// Paths returns documents for files and directories given on a command line.
// Directories are walked with Dir; files keep their base name as source ID.
func Paths(paths []string, extensions []string) ([]models.SourceDocument, error) {
	var docs []models.SourceDocument
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			found, err := Dir(p, extensions)
			if err != nil {
				return nil, err
			}
			docs = append(docs, found...)
			continue
		}
		docs = append(docs, models.SourceDocument{SourceID: filepath.Base(p), Path: p})
	}
	return docs, nil
}

// Texts wraps pre-extracted texts keyed by source ID. Order follows ids.
func Texts(ids []string, texts map[string]string) []models.SourceDocument {
	docs := make([]models.SourceDocument, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, models.SourceDocument{SourceID: id, Text: texts[id]})
	}
	return docs
}
