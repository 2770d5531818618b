package storage

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/hyperjump/shiryo/internal/models"
)

// tryLock takes the exclusive build lock of a location without waiting.
// Returns models.ErrBuildInProgress if another build or delete holds it.
func tryLock(location string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(location, lockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire build lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrBuildInProgress, location)
	}
	return fl, nil
}
