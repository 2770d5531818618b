package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/session"
	"github.com/hyperjump/shiryo/internal/storage"
)

type fixture struct {
	manager  *storage.Manager
	registry *session.Registry
	facade   *Facade
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chunker, err := indexer.NewChunker(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := session.NewRegistry(t.TempDir(), "default")
	if err != nil {
		t.Fatal(err)
	}
	mt := metrics.New()
	mgr := storage.NewManager(embedding.NewMockEmbedder(32), chunker, storage.WithMetrics(mt))
	f, err := New(mgr, reg, WithMetrics(mt), WithLimits(3, 10), WithHandleCacheSize(2))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{manager: mgr, registry: reg, facade: f, metrics: mt}
}

func words(prefix string, n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(w, " ")
}

func (fx *fixture) build(t *testing.T, location string, docs ...models.SourceDocument) *storage.BuildResult {
	t.Helper()
	res, err := fx.manager.Build(context.Background(), location, docs)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestRetrieve_NoStoreFallsBack(t *testing.T) {
	fx := newFixture(t)
	for _, q := range []models.RetrieveQuery{
		{Query: "anything"},
		{Query: "anything", ScopeID: "never-built"},
		{Query: "anything", Location: filepath.Join(t.TempDir(), "empty")},
	} {
		res, err := fx.facade.Retrieve(context.Background(), q)
		if err != nil {
			t.Fatalf("%+v: %v", q, err)
		}
		if res.Found || len(res.Evidence) != 0 {
			t.Errorf("%+v: got %+v, want no evidence", q, res)
		}
		if res.Location == "" {
			t.Errorf("%+v: resolved location not reported", q)
		}
	}
}

func TestRetrieve_CorruptionRaises(t *testing.T) {
	fx := newFixture(t)
	loc := fx.registry.DefaultLocation()
	built := fx.build(t, loc, models.SourceDocument{SourceID: "a", Text: words("alpha", 10)})

	metaPath := filepath.Join(loc, built.Generation, "meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatal(err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	meta["chunk_count"] = 99
	data, _ = json.Marshal(meta)
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, err = fx.facade.Retrieve(context.Background(), models.RetrieveQuery{Query: "alpha1"})
	if !errors.Is(err, models.ErrStoreCorruption) {
		t.Fatalf("err = %v, want ErrStoreCorruption", err)
	}
}

func TestRetrieve_ExactChunkRanksFirst(t *testing.T) {
	fx := newFixture(t)
	loc := filepath.Join(t.TempDir(), "papers")
	built := fx.build(t, loc,
		models.SourceDocument{SourceID: "a", Text: words("alpha", 7)},
		models.SourceDocument{SourceID: "b", Text: words("beta", 10)},
	)
	if built.ChunkCount != 5 {
		t.Fatalf("chunk count = %d, want 5", built.ChunkCount)
	}

	// Chunk 3 is the second window of "b".
	res, err := fx.facade.Retrieve(context.Background(), models.RetrieveQuery{
		Query:    "beta3 beta4 beta5 beta6",
		K:        3,
		Location: loc,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || res.Generation != built.Generation {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Evidence) != 3 {
		t.Fatalf("got %d results, want 3", len(res.Evidence))
	}
	top := res.Evidence[0]
	if top.SourceID != "b" || top.SequenceIndex != 1 || top.Rank != 1 {
		t.Errorf("top = %+v, want b#1", top)
	}
}

func TestRetrieve_ScopeIsolation(t *testing.T) {
	fx := newFixture(t)
	locA, _ := fx.registry.Location("topicA")
	locB, _ := fx.registry.Location("topicB")
	fx.build(t, locA, models.SourceDocument{SourceID: "a", Text: words("alpha", 20)})
	fx.build(t, locB, models.SourceDocument{SourceID: "b", Text: words("beta", 20)})

	for scope, want := range map[string]string{"topicA": "a", "topicB": "b"} {
		// Query with the other scope's text to make leakage likely if it existed.
		other := "beta1 beta2 beta3 beta4"
		if scope == "topicB" {
			other = "alpha1 alpha2 alpha3 alpha4"
		}
		res, err := fx.facade.Retrieve(context.Background(), models.RetrieveQuery{Query: other, K: 10, ScopeID: scope})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Found || len(res.Evidence) == 0 {
			t.Fatalf("%s: no evidence", scope)
		}
		for _, e := range res.Evidence {
			if e.SourceID != want {
				t.Errorf("%s returned chunk from %s", scope, e.SourceID)
			}
		}
	}
}

func TestResolve_Order(t *testing.T) {
	fx := newFixture(t)
	explicit := filepath.Join(t.TempDir(), "explicit")
	scoped, _ := fx.registry.Location("topicA")

	tests := []struct {
		name string
		q    models.RetrieveQuery
		want string
	}{
		{"location wins", models.RetrieveQuery{Location: explicit, ScopeID: "topicA"}, explicit},
		{"scope", models.RetrieveQuery{ScopeID: "topicA"}, scoped},
		{"default", models.RetrieveQuery{}, fx.registry.DefaultLocation()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fx.facade.Resolve(tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
	if _, err := fx.facade.Resolve(models.RetrieveQuery{ScopeID: "../escape"}); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestRetrieve_Validation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if _, err := fx.facade.Retrieve(ctx, models.RetrieveQuery{Query: "  "}); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("empty query: %v", err)
	}
	if _, err := fx.facade.Retrieve(ctx, models.RetrieveQuery{Query: "x", Filters: map[string]string{"year": "2020"}}); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("unknown filter: %v", err)
	}

	loc := fx.registry.DefaultLocation()
	fx.build(t, loc, models.SourceDocument{SourceID: "a", Text: words("alpha", 60)})
	res, err := fx.facade.Retrieve(ctx, models.RetrieveQuery{Query: "alpha1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Evidence) != 3 {
		t.Errorf("default k: got %d results, want 3", len(res.Evidence))
	}
	res, err = fx.facade.Retrieve(ctx, models.RetrieveQuery{Query: "alpha1", K: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Evidence) != 10 {
		t.Errorf("clamped k: got %d results, want 10", len(res.Evidence))
	}
}

func TestRetrieve_FollowsRebuild(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	loc := fx.registry.DefaultLocation()
	first := fx.build(t, loc, models.SourceDocument{SourceID: "old", Text: words("alpha", 10)})

	res, err := fx.facade.Retrieve(ctx, models.RetrieveQuery{Query: "alpha1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Generation != first.Generation {
		t.Fatalf("generation = %s, want %s", res.Generation, first.Generation)
	}
	// Served from the handle cache.
	if _, err := fx.facade.Retrieve(ctx, models.RetrieveQuery{Query: "alpha2"}); err != nil {
		t.Fatal(err)
	}

	second := fx.build(t, loc, models.SourceDocument{SourceID: "new", Text: words("gamma", 10)})
	res, err = fx.facade.Retrieve(ctx, models.RetrieveQuery{Query: "alpha1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Generation != second.Generation {
		t.Fatalf("generation = %s, want %s", res.Generation, second.Generation)
	}
	for _, e := range res.Evidence {
		if e.SourceID != "new" {
			t.Errorf("stale chunk from %s served after rebuild", e.SourceID)
		}
	}

	if err := fx.manager.Delete(loc); err != nil {
		t.Fatal(err)
	}
	fx.facade.Invalidate(loc)
	res, err = fx.facade.Retrieve(ctx, models.RetrieveQuery{Query: "alpha1"})
	if err != nil || res.Found {
		t.Errorf("after delete: %+v, %v", res, err)
	}
}

func TestNew_InvalidLimits(t *testing.T) {
	fx := newFixture(t)
	if _, err := New(fx.manager, fx.registry, WithLimits(20, 10)); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}
