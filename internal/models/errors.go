package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports invalid parameters, caught before any I/O.
	ErrConfiguration = errors.New("configuration error")
	// ErrEmbedder reports a failed embedding call.
	ErrEmbedder = errors.New("embedder error")
	// ErrStoreNotFound reports that no published store exists at a location.
	ErrStoreNotFound = errors.New("store not found")
	// ErrStoreCorruption reports store artifacts that are present but inconsistent.
	ErrStoreCorruption = errors.New("store corruption")
	// ErrDimensionMismatch reports a vector whose dimension differs from the index.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNoDocuments reports a build that produced no chunks.
	ErrNoDocuments = errors.New("no documents to index")
	ErrSessionNotFound = errors.New("session not found")
	ErrBuildInProgress = errors.New("build already in progress")
)

// DimensionMismatchError carries the offending and expected dimensions.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// Is makes errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CorruptionError describes why a store location failed consistency checks.
type CorruptionError struct {
	Location string
	Reason   string
	Err      error
}

func (e *CorruptionError) Error() string {
	msg := fmt.Sprintf("store corruption at %s: %s", e.Location, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrStoreCorruption
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}
