// Package ingest builds stores for scopes and locations from their source documents.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/retrieval"
	"github.com/hyperjump/shiryo/internal/session"
	"github.com/hyperjump/shiryo/internal/source"
	"github.com/hyperjump/shiryo/internal/storage"
)

// Service ties the store manager to the session registry.
type Service struct {
	manager    *storage.Manager
	sessions   *session.Registry
	facade     *retrieval.Facade
	extensions []string
	logger     *zap.Logger
}

// NewService creates an ingest service. facade may be nil; when set, cached handles of
// rebuilt or deleted locations are released. extensions filters papers directory files.
func NewService(manager *storage.Manager, sessions *session.Registry, facade *retrieval.Facade, extensions []string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		manager:    manager,
		sessions:   sessions,
		facade:     facade,
		extensions: extensions,
		logger:     logger,
	}
}

// BuildScope rebuilds the store of scope. With no docs, the scope's papers directory is
// read. The scope is registered if it does not exist yet.
func (s *Service) BuildScope(ctx context.Context, scope string, docs []models.SourceDocument, opts ...indexer.BuilderOption) (*storage.BuildResult, error) {
	if _, err := s.sessions.Ensure(scope); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		dir, err := s.sessions.PapersDir(scope)
		if err != nil {
			return nil, err
		}
		if docs, err = source.Dir(dir, s.extensions); err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("%w: %s is empty", models.ErrNoDocuments, dir)
		}
	}
	location, err := s.sessions.Location(scope)
	if err != nil {
		return nil, err
	}
	res, err := s.BuildLocation(ctx, location, docs, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.RecordBuild(scope, res.Sources, res.ChunkCount); err != nil {
		s.logger.Warn("failed to record build", zap.String("session", scope), zap.Error(err))
	}
	return res, nil
}

// BuildLocation rebuilds the store at location from docs.
func (s *Service) BuildLocation(ctx context.Context, location string, docs []models.SourceDocument, opts ...indexer.BuilderOption) (*storage.BuildResult, error) {
	res, err := s.manager.Build(ctx, location, docs, opts...)
	if err != nil {
		return nil, err
	}
	if s.facade != nil {
		s.facade.Invalidate(res.Location)
	}
	return res, nil
}

// Rebuild rebuilds scope from its papers directory. It matches watcher.RebuildFunc.
func (s *Service) Rebuild(ctx context.Context, scope string) error {
	_, err := s.BuildScope(ctx, scope, nil)
	return err
}

// DeleteScope removes the store of scope, then the session with its papers.
func (s *Service) DeleteScope(scope string) error {
	if _, err := s.sessions.Get(scope); err != nil {
		return err
	}
	location, err := s.sessions.Location(scope)
	if err != nil {
		return err
	}
	if err := s.manager.Delete(location); err != nil {
		return err
	}
	if s.facade != nil {
		s.facade.Invalidate(location)
	}
	return s.sessions.Delete(scope)
}

// Stats reports the store of scope.
func (s *Service) Stats(ctx context.Context, scope string) (*models.StoreStats, error) {
	location, err := s.sessions.Location(scope)
	if err != nil {
		return nil, err
	}
	return s.manager.Stats(ctx, location)
}
