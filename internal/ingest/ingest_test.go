package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/retrieval"
	"github.com/hyperjump/shiryo/internal/session"
	"github.com/hyperjump/shiryo/internal/storage"
)

func newTestService(t *testing.T) (*Service, *session.Registry, *retrieval.Facade) {
	t.Helper()
	chunker, err := indexer.NewChunker(5, 1)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := session.NewRegistry(t.TempDir(), "default")
	if err != nil {
		t.Fatal(err)
	}
	mgr := storage.NewManager(embedding.NewMockEmbedder(16), chunker)
	facade, err := retrieval.New(mgr, reg)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(mgr, reg, facade, []string{".txt", ".md"}, nil), reg, facade
}

func TestService_BuildScopeFromPapers(t *testing.T) {
	ctx := context.Background()
	svc, reg, facade := newTestService(t)

	papers, err := reg.PapersDir("topicA")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(papers, 0755); err != nil {
		t.Fatal(err)
	}
	for name, text := range map[string]string{
		"one.txt":  "attention is all you need transformers replace recurrence entirely",
		"two.md":   "# Diffusion\n\nscore matching with langevin dynamics",
		"skip.bin": "binary",
	} {
		if err := os.WriteFile(filepath.Join(papers, name), []byte(text), 0644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := svc.BuildScope(ctx, "topicA", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sources != 2 || res.ChunkCount == 0 {
		t.Fatalf("result = %+v", res)
	}

	s, err := reg.Get("topicA")
	if err != nil {
		t.Fatal(err)
	}
	if s.PapersCount != 2 || s.ChunksCount != res.ChunkCount || s.LastBuildAt.IsZero() {
		t.Errorf("session = %+v", s)
	}

	out, err := facade.Retrieve(ctx, models.RetrieveQuery{Query: "transformers", ScopeID: "topicA"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Found || len(out.Evidence) == 0 {
		t.Errorf("retrieve = %+v", out)
	}

	st, err := svc.Stats(ctx, "topicA")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Exists || st.Meta.ChunkCount != res.ChunkCount {
		t.Errorf("stats = %+v", st)
	}
}

func TestService_BuildScopeWithDocuments(t *testing.T) {
	svc, reg, _ := newTestService(t)
	res, err := svc.BuildScope(context.Background(), "topicB", []models.SourceDocument{
		{SourceID: "inline", Text: "a short inline document"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunkCount != 1 {
		t.Errorf("chunks = %d, want 1", res.ChunkCount)
	}
	if _, err := reg.Get("topicB"); err != nil {
		t.Errorf("scope not registered implicitly: %v", err)
	}
}

func TestService_RebuildEmptyPapers(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.Rebuild(context.Background(), "empty"); !errors.Is(err, models.ErrNoDocuments) {
		t.Errorf("err = %v, want ErrNoDocuments", err)
	}
}

func TestService_DeleteScope(t *testing.T) {
	ctx := context.Background()
	svc, reg, facade := newTestService(t)
	if _, err := svc.BuildScope(ctx, "topicC", []models.SourceDocument{{SourceID: "x", Text: "some words here"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteScope("topicC"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Get("topicC"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("session survived delete: %v", err)
	}
	out, err := facade.Retrieve(ctx, models.RetrieveQuery{Query: "words", ScopeID: "topicC"})
	if err != nil || out.Found {
		t.Errorf("retrieve after delete = %+v, %v", out, err)
	}
	if err := svc.DeleteScope("topicC"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("second delete: %v", err)
	}
}
