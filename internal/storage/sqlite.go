package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shiryo/internal/models"
)

const chunksSchema = `
CREATE TABLE chunks (
	position INTEGER PRIMARY KEY,
	source_id TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	text TEXT NOT NULL
);
CREATE INDEX idx_chunks_source ON chunks(source_id, sequence_index);
`

// writeChunks creates a new chunk database at path holding chunks in order.
// position i of the table is vector i of the index.
func writeChunks(ctx context.Context, path string, chunks []models.Chunk) error {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=rwc&_journal_mode=DELETE&_synchronous=FULL")
	if err != nil {
		return fmt.Errorf("failed to open chunk database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, chunksSchema); err != nil {
		return fmt.Errorf("failed to initialize chunk schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, source_id, sequence_index, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, i, ch.SourceID, ch.SequenceIndex, ch.Text); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

func openChunksReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk database: %w", err)
	}
	return db, nil
}

// countChunks returns the number of rows in the chunk table.
func countChunks(ctx context.Context, path string) (int, error) {
	db, err := openChunksReadOnly(path)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// readChunks loads all chunks ordered by position. Positions must run 0..n-1 without gaps.
func readChunks(ctx context.Context, path string) ([]models.Chunk, error) {
	db, err := openChunksReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT position, source_id, sequence_index, text FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var pos int
		var ch models.Chunk
		if err := rows.Scan(&pos, &ch.SourceID, &ch.SequenceIndex, &ch.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if pos != len(chunks) {
			return nil, fmt.Errorf("chunk positions not contiguous: found %d, expected %d", pos, len(chunks))
		}
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return chunks, nil
}
