package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/source"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoDocuments):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrStoreNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrBuildInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmbedder):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var q models.RetrieveQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("retrieve request", zap.String("query", q.Query), zap.Int("k", q.K), zap.String("scope_id", q.ScopeID))
	res, err := s.facade.Retrieve(r.Context(), q)
	if err != nil {
		s.logger.Error("retrieve failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type buildRequest struct {
	Location  string                  `json:"location,omitempty"`
	Documents []models.SourceDocument `json:"documents"`
}

func (s *Server) handleBuildStore(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, http.StatusBadRequest, "documents are required")
		return
	}
	location, err := s.facade.Resolve(models.RetrieveQuery{Location: req.Location})
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	res, err := s.ingest.BuildLocation(r.Context(), location, req.Documents)
	if err != nil {
		s.logger.Error("build failed", zap.String("location", location), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	q := models.RetrieveQuery{
		Location: r.URL.Query().Get("location"),
		ScopeID:  r.URL.Query().Get("scope_id"),
	}
	location, err := s.facade.Resolve(q)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	st, err := s.manager.Stats(r.Context(), location)
	if err != nil {
		s.logger.Error("stats failed", zap.String("location", location), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List()
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	if list == nil {
		list = []*models.Session{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

type createSessionRequest struct {
	Topic       string `json:"topic"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.sessions.Create(req.Topic, req.Description)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, sess)
}

type sessionResponse struct {
	*models.Session
	Store *models.StoreStats `json:"store,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	st, err := s.ingest.Stats(r.Context(), id)
	if err != nil {
		s.logger.Warn("session stats failed", zap.String("session", id), zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, sessionResponse{Session: sess, Store: st})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete session request", zap.String("session", id))
	if s.watch != nil {
		s.watch.RemoveScope(id)
	}
	if err := s.ingest.DeleteScope(id); err != nil {
		s.logger.Error("delete session failed", zap.String("session", id), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

type addPaperRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// handleAddPaper stores a pre-extracted text document in the session's papers directory.
func (s *Server) handleAddPaper(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req addPaperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := filepath.Base(strings.TrimSpace(req.Name))
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		s.respondError(w, http.StatusBadRequest, "invalid document name")
		return
	}
	if !source.ExtensionAllowed(name, []string{".txt", ".md", ".rst"}) {
		name += ".txt"
	}
	if strings.TrimSpace(req.Text) == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	dir, err := s.sessions.PapersDir(id)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(req.Text), 0644); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "name": name, "status": "stored"})
}

func (s *Server) handleBuildSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req buildRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.logger.Debug("build session request", zap.String("session", id), zap.Int("documents", len(req.Documents)))
	res, err := s.ingest.BuildScope(r.Context(), id, req.Documents)
	if err != nil {
		s.logger.Error("build failed", zap.String("session", id), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Scopes()})
}

type watchAddRequest struct {
	ScopeID string `json:"scope_id"`
	Rebuild *bool  `json:"rebuild,omitempty"`
}

func (s *Server) handleWatchAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.sessions.Get(req.ScopeID); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	dir, err := s.sessions.PapersDir(req.ScopeID)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	rebuild := true
	if req.Rebuild != nil {
		rebuild = *req.Rebuild
	}
	if err := s.watch.AddScope(req.ScopeID, dir, rebuild); err != nil {
		s.logger.Error("watch add failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"scope_id": req.ScopeID, "path": dir, "status": "watching"})
}

func (s *Server) handleWatchRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	s.watch.RemoveScope(id)
	s.respondJSON(w, http.StatusOK, map[string]string{"scope_id": id, "status": "removed"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
