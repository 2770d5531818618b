package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// usage sums the sizes of the published files under location: CURRENT and
// every generation directory. Staging directories and the lock file are not
// counted. A missing location has zero usage.
func usage(location string) (int64, error) {
	entries, err := os.ReadDir(location)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		name := e.Name()
		if name != currentFile && !strings.HasPrefix(name, genPrefix) {
			continue
		}
		n, err := treeSize(filepath.Join(location, name))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// treeSize returns the size of a file, or the recursive size of a directory.
// Entries removed during the walk are skipped.
func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
