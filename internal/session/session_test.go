package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), "default")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestID(t *testing.T) {
	a := ID("Graph Neural Networks")
	if !strings.HasPrefix(a, "graph_neural_networks_") || len(a) != len("graph_neural_networks_")+8 {
		t.Errorf("ID = %q", a)
	}
	if ID("Graph Neural Networks") != a {
		t.Error("ID is not stable")
	}
	if ID("graph neural networks") == a {
		t.Error("different topics share an id")
	}
	if got := ID("!!!"); !strings.HasPrefix(got, "default_") {
		t.Errorf("ID(!!!) = %q", got)
	}
	long := ID(strings.Repeat("word ", 40))
	if err := ValidateID(long); err != nil || len(long) > maxSlugLen+9 {
		t.Errorf("long ID = %q (%v)", long, err)
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"", ".", "..", "a/b", `a\b`, ".hidden"} {
		if err := ValidateID(id); !errors.Is(err, models.ErrConfiguration) {
			t.Errorf("ValidateID(%q) = %v, want ErrConfiguration", id, err)
		}
	}
	if err := ValidateID("topicA"); err != nil {
		t.Errorf("ValidateID(topicA) = %v", err)
	}
}

func TestNewRegistry_RejectsCollidingDefault(t *testing.T) {
	if _, err := NewRegistry(t.TempDir(), "sessions"); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
	if _, err := NewRegistry("", "default"); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestRegistry_Locations(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Location("topicA")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Location("topicB")
	if err != nil {
		t.Fatal(err)
	}
	if a == b || a == r.DefaultLocation() || b == r.DefaultLocation() {
		t.Errorf("locations collide: %s %s %s", a, b, r.DefaultLocation())
	}
	if _, err := r.Location("../topicA"); err == nil {
		t.Error("expected error for traversal id")
	}
}

func TestRegistry_CreateGetListDelete(t *testing.T) {
	r := newTestRegistry(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	first, err := r.Create("Protein folding", "alphafold follow-ups")
	if err != nil {
		t.Fatal(err)
	}
	again, err := r.Create("Protein folding", "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID || again.Description != "alphafold follow-ups" {
		t.Errorf("create is not idempotent: %+v", again)
	}
	for _, dir := range []string{first.StoreLocation, filepath.Join(filepath.Dir(first.StoreLocation), papersDir)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("missing directory %s: %v", dir, err)
		}
	}

	second, err := r.Create("Quantum error correction", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.RecordBuild(first.ID, 3, 42); err != nil {
		t.Fatal(err)
	}

	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("list order wrong: %+v", list)
	}
	if list[0].PapersCount != 3 || list[0].ChunksCount != 42 || list[0].LastBuildAt.IsZero() {
		t.Errorf("build not recorded: %+v", list[0])
	}

	got, err := r.Get(second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Topic != "Quantum error correction" {
		t.Errorf("topic = %q", got.Topic)
	}

	if err := r.Delete(second.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(second.ID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("get after delete: %v", err)
	}
	if err := r.Delete(second.ID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestRegistry_Ensure(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Ensure("topicA")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "topicA" || s.Topic != "topicA" {
		t.Errorf("session = %+v", s)
	}
	loc, _ := r.Location("topicA")
	if s.StoreLocation != loc {
		t.Errorf("store location = %s, want %s", s.StoreLocation, loc)
	}
	if _, err := r.Ensure("topicA"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RecordBuild("missing", 1, 1); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistry_ListEmpty(t *testing.T) {
	list, err := newTestRegistry(t).List()
	if err != nil || len(list) != 0 {
		t.Errorf("got %v, %v", list, err)
	}
}
