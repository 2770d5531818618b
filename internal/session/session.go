// Package session maps isolation scopes to store locations and keeps the session registry.
//
// Layout under the data directory:
//
//	<data_dir>/<default_store>/             store used when no scope is given
//	<data_dir>/sessions/<id>/session.json   registry entry
//	<data_dir>/sessions/<id>/papers/        source documents of the session
//	<data_dir>/sessions/<id>/vector_store/  the session's store location
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/models"
)

const (
	sessionsDir = "sessions"
	sessionFile = "session.json"
	papersDir   = "papers"
	storeDir    = "vector_store"

	maxSlugLen = 40
)

// ID derives a stable session id from a topic: a slug of at most 40 characters plus the
// first 8 hex digits of the topic's SHA-256, so topics with equal slugs stay distinct.
func ID(topic string) string {
	s := strings.ReplaceAll(slug.Make(topic), "-", "_")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "_")
	}
	if s == "" {
		s = "default"
	}
	sum := sha256.Sum256([]byte(topic))
	return s + "_" + hex.EncodeToString(sum[:])[:8]
}

// ValidateID rejects ids that are not a single plain path element.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: invalid scope id %q", models.ErrConfiguration, id)
	}
	return nil
}

// Registry resolves scope ids to locations and persists session metadata.
type Registry struct {
	dataDir      string
	defaultStore string
	logger       *zap.Logger
	now          func() time.Time
	mu           sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a logger for session lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry rooted at dataDir. defaultStore names the directory used
// when no scope is given; it may not collide with the sessions directory.
func NewRegistry(dataDir, defaultStore string, opts ...Option) (*Registry, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("%w: data directory is empty", models.ErrConfiguration)
	}
	if err := ValidateID(defaultStore); err != nil {
		return nil, fmt.Errorf("default store: %w", err)
	}
	if defaultStore == sessionsDir {
		return nil, fmt.Errorf("%w: default store may not be named %q", models.ErrConfiguration, sessionsDir)
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		dataDir:      abs,
		defaultStore: defaultStore,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DefaultLocation is the store location used when a caller supplies no scope.
func (r *Registry) DefaultLocation() string {
	return filepath.Join(r.dataDir, r.defaultStore)
}

func (r *Registry) sessionDir(id string) string {
	return filepath.Join(r.dataDir, sessionsDir, id)
}

// Location returns the store location of scope id. Distinct ids never share a location.
// The session does not need to exist.
func (r *Registry) Location(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(r.sessionDir(id), storeDir), nil
}

// PapersDir returns the directory holding the source documents of scope id.
func (r *Registry) PapersDir(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(r.sessionDir(id), papersDir), nil
}

// Create registers a session for topic, or returns the existing one with the same id.
func (r *Registry) Create(topic, description string) (*models.Session, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: topic cannot be empty", models.ErrConfiguration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ID(topic)
	if s, err := r.read(id); err == nil {
		return s, nil
	} else if !errors.Is(err, models.ErrSessionNotFound) {
		return nil, err
	}
	return r.create(id, topic, description)
}

// Ensure returns session id, registering it under its own id as topic when absent.
// Builds under a scope create the scope implicitly.
func (r *Registry) Ensure(id string) (*models.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, err := r.read(id); err == nil {
		return s, nil
	} else if !errors.Is(err, models.ErrSessionNotFound) {
		return nil, err
	}
	return r.create(id, id, "")
}

func (r *Registry) create(id, topic, description string) (*models.Session, error) {
	dir := r.sessionDir(id)
	for _, sub := range []string{papersDir, storeDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	now := r.now().UTC()
	s := &models.Session{
		ID:            id,
		Topic:         topic,
		Description:   description,
		CreatedAt:     now,
		UpdatedAt:     now,
		StoreLocation: filepath.Join(dir, storeDir),
	}
	if err := r.write(s); err != nil {
		return nil, err
	}
	r.logger.Info("session created", zap.String("session", id), zap.String("topic", topic))
	return s, nil
}

// Get returns session id or models.ErrSessionNotFound.
func (r *Registry) Get(id string) (*models.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(id)
}

// List returns every registered session, most recently updated first.
// Entries with unreadable metadata are skipped.
func (r *Registry) List() ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(r.dataDir, sessionsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []*models.Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := r.read(e.Name())
		if err != nil {
			r.logger.Debug("skipping session", zap.String("session", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes session id with its papers and store.
func (r *Registry) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	dir := r.sessionDir(id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	r.logger.Info("session deleted", zap.String("session", id))
	return nil
}

// RecordBuild stores the counts of a successful build of session id.
func (r *Registry) RecordBuild(id string, papers, chunks int) (*models.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.read(id)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	s.PapersCount = papers
	s.ChunksCount = chunks
	s.LastBuildAt = now
	s.UpdatedAt = now
	if err := r.write(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Registry) read(id string) (*models.Session, error) {
	data, err := os.ReadFile(filepath.Join(r.sessionDir(id), sessionFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
		}
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid %s for %s: %w", sessionFile, id, err)
	}
	s.ID = id
	s.StoreLocation = filepath.Join(r.sessionDir(id), storeDir)
	return &s, nil
}

func (r *Registry) write(s *models.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(r.sessionDir(s.ID), sessionFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", sessionFile, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", sessionFile, err)
	}
	return nil
}
