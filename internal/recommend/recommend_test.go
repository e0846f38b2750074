package recommend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"libris/pkg/domain"
	"libris/pkg/store"
)

func seed(t *testing.T, s *store.MemoryStore, id, author string, genres ...string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.SaveBook(domain.Book{
		ID:        id,
		Title:     "title-" + id,
		Author:    author,
		Genres:    genres,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestForUserPrefersRemoteService(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recommendations" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("user_id"); got != "u1" {
			t.Errorf("user_id = %q, want u1", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"recommendations": []domain.Book{{ID: "remote-1", Title: "From Service"}},
		})
	}))
	defer remote.Close()

	r := New(remote.URL, store.NewMemoryStore())
	books, err := r.ForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(books) != 1 || books[0].ID != "remote-1" {
		t.Fatalf("books = %+v, want the remote answer", books)
	}
}

func TestForUserFallsBackWhenRemoteFails(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer remote.Close()

	mem := store.NewMemoryStore()
	seed(t, mem, "b1", "Herbert", "sci-fi")

	r := New(remote.URL, mem)
	books, err := r.ForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(books) != 1 || books[0].ID != "b1" {
		t.Fatalf("books = %+v, want the local catalog", books)
	}
}

func TestLocalFallbackSamplesWithoutHistory(t *testing.T) {
	mem := store.NewMemoryStore()
	for _, id := range []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8"} {
		seed(t, mem, id, "author", "genre")
	}

	r := New("", mem)
	books, err := r.ForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(books) != maxRecommendations {
		t.Fatalf("books = %d, want %d", len(books), maxRecommendations)
	}
}

func TestLocalFallbackScoresByGenreAndAuthor(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem, "liked", "Herbert", "sci-fi")
	seed(t, mem, "same-author-and-genre", "Herbert", "sci-fi")
	seed(t, mem, "same-genre", "Simmons", "sci-fi")
	seed(t, mem, "unrelated", "Austen", "classic")
	if _, err := mem.CastVote("u1", "liked", domain.ChoiceLike); err != nil {
		t.Fatalf("like: %v", err)
	}

	r := New("", mem)
	books, err := r.ForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("books = %+v, want the two related titles", books)
	}
	if books[0].ID != "same-author-and-genre" {
		t.Fatalf("top pick = %q, want same-author-and-genre", books[0].ID)
	}
	for _, b := range books {
		if b.ID == "liked" {
			t.Fatalf("already-liked book recommended")
		}
		if b.ID == "unrelated" {
			t.Fatalf("unrelated book recommended")
		}
	}
}
