// Package models defines core data structures for documents, chunks, stores, sessions, and retrieval results.
package models

import "time"

// SourceDocument is one input to a store build. Either Text or Path is set;
// when Text is empty the document is read from Path through the extractors.
type SourceDocument struct {
	SourceID string `json:"source_id"`
	Text     string `json:"text,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Chunk is a contiguous span of normalized text from one source document.
// Text is non-empty and holds at most the configured chunk size in words.
type Chunk struct {
	Text          string `json:"text"`
	SourceID      string `json:"source_id"`
	SequenceIndex int    `json:"sequence_index"`
}

// StoreMeta is the metadata artifact persisted alongside vectors and chunks.
type StoreMeta struct {
	FormatVersion  int       `json:"format_version"`
	ChunkCount     int       `json:"chunk_count"`
	Dimension      int       `json:"dimension"`
	ModelIdentity  string    `json:"model_identity"`
	BuildTimestamp time.Time `json:"build_timestamp"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	Sources        int       `json:"sources"`
}

// StoreStats describes the state of one store location.
type StoreStats struct {
	Location       string     `json:"location"`
	Exists         bool       `json:"exists"`
	Generation     string     `json:"generation,omitempty"`
	Generations    int        `json:"generations"`
	DiskUsageBytes int64      `json:"disk_usage_bytes"`
	Meta           *StoreMeta `json:"meta,omitempty"`
}
