package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hyperjump/shiryo/internal/models"
)

// MetaFormatVersion is written to every meta.json.
const MetaFormatVersion = 1

func writeMeta(path string, meta *models.StoreMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return writeFileSync(path, append(data, '\n'))
}

func readMeta(path string) (*models.StoreMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta models.StoreMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.FormatVersion != MetaFormatVersion {
		return nil, fmt.Errorf("unsupported metadata format version %d", meta.FormatVersion)
	}
	if meta.ChunkCount < 0 || meta.Dimension <= 0 {
		return nil, fmt.Errorf("invalid metadata: chunk_count=%d dimension=%d", meta.ChunkCount, meta.Dimension)
	}
	return &meta, nil
}
