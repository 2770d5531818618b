package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// On-disk names within a store location.
const (
	currentFile   = "CURRENT"
	lockFile      = ".lock"
	stagingPrefix = ".staging-"
	genPrefix     = "gen-"

	vectorsFile = "vectors.bin"
	chunksFile  = "chunks.db"
	metaFile    = "meta.json"
)

// newGenerationName returns a name that sorts after every earlier generation.
func newGenerationName(now time.Time) string {
	return fmt.Sprintf("%s%019d-%s", genPrefix, now.UnixNano(), uuid.NewString()[:8])
}

func isGenerationName(name string) bool {
	return strings.HasPrefix(name, genPrefix) && !strings.ContainsAny(name, `/\`)
}

// readCurrent returns the published generation name, or fs.ErrNotExist if none.
func readCurrent(location string) (string, error) {
	data, err := os.ReadFile(filepath.Join(location, currentFile))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(data))
	if !isGenerationName(name) {
		return "", fmt.Errorf("invalid generation name %q in %s", name, currentFile)
	}
	return name, nil
}

// writeCurrent atomically points CURRENT at gen.
func writeCurrent(location, gen string) error {
	tmp := filepath.Join(location, currentFile+".tmp")
	if err := writeFileSync(tmp, []byte(gen+"\n")); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(location, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish %s: %w", currentFile, err)
	}
	return syncDir(location)
}

// listGenerations returns generation directory names, oldest first.
func listGenerations(location string) ([]string, error) {
	entries, err := os.ReadDir(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var gens []string
	for _, e := range entries {
		if e.IsDir() && isGenerationName(e.Name()) {
			gens = append(gens, e.Name())
		}
	}
	slices.Sort(gens)
	return gens, nil
}

// obsoleteGenerations returns generations to remove: everything except current and
// the keep-1 newest generations older than it. Unpublished generations newer than
// current are obsolete.
func obsoleteGenerations(gens []string, current string, keep int) []string {
	var remove []string
	kept := 1
	for i := len(gens) - 1; i >= 0; i-- {
		g := gens[i]
		switch {
		case g == current:
		case g > current:
			remove = append(remove, g)
		case kept < keep:
			kept++
		default:
			remove = append(remove, g)
		}
	}
	return remove
}

// removeStaging deletes leftover staging directories from interrupted builds.
func removeStaging(location string) error {
	entries, err := os.ReadDir(location)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), stagingPrefix) {
			if err := os.RemoveAll(filepath.Join(location, e.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// syncDir flushes directory entries so renames survive a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Not every platform supports fsync on a directory.
	_ = d.Sync()
	return nil
}
