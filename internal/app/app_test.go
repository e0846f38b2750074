package app

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"libris/pkg/domain"
	"libris/pkg/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	a, err := New(Config{
		Store:    mem,
		Sessions: store.NewJWTSessionStore("test-secret", time.Hour),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem
}

func seedBook(t *testing.T, mem *store.MemoryStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := mem.SaveBook(domain.Book{
		ID:        id,
		Title:     "Snow Crash",
		Author:    "Stephenson",
		Genres:    []string{"sci-fi"},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed book: %v", err)
	}
}

func TestSignUpFirstUserBecomesAdmin(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	first, token, err := a.SignUp(ctx, "admin@example.com", "admin", "secret12")
	if err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if first.Role != domain.RoleAdmin {
		t.Fatalf("first user role = %q, want admin", first.Role)
	}
	if token == "" {
		t.Fatalf("first signup returned empty token")
	}

	second, _, err := a.SignUp(ctx, "reader@example.com", "reader", "secret12")
	if err != nil {
		t.Fatalf("second signup: %v", err)
	}
	if second.Role != domain.RoleUser {
		t.Fatalf("second user role = %q, want user", second.Role)
	}
}

func TestSignUpMissingFields(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	if _, _, err := a.SignUp(ctx, "x@example.com", "x", ""); !errors.Is(err, ErrInvalidSignup) {
		t.Fatalf("missing password err = %v, want ErrInvalidSignup", err)
	}
	if _, _, err := a.SignUp(ctx, "", "x", "secret12"); !errors.Is(err, ErrInvalidSignup) {
		t.Fatalf("missing email err = %v, want ErrInvalidSignup", err)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	if _, _, err := a.SignUp(ctx, "x@example.com", "x", "secret12"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, _, err := a.SignUp(ctx, "X@Example.com", "y", "secret12"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate signup err = %v, want ErrEmailTaken", err)
	}
}

func TestLoginAndTokenRoundTrip(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	if _, _, err := a.SignUp(ctx, "x@example.com", "x", "secret12"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	user, token, err := a.Login("x@example.com", "secret12")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	got, ok := a.UserFromToken(token)
	if !ok || got.ID != user.ID {
		t.Fatalf("UserFromToken ok=%v id=%q, want id=%q", ok, got.ID, user.ID)
	}

	if _, _, err := a.Login("x@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := a.Login("nobody@example.com", "secret12"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	a, mem := newTestApp(t)
	ctx := context.Background()

	user, token, err := a.SignUp(ctx, "x@example.com", "x", "secret12")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	user.Status = domain.StatusDisabled
	if err := mem.SaveUser(user); err != nil {
		t.Fatalf("disable user: %v", err)
	}

	if _, _, err := a.Login("x@example.com", "secret12"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("disabled login err = %v, want ErrForbidden", err)
	}
	if _, ok := a.UserFromToken(token); ok {
		t.Fatalf("UserFromToken accepted a disabled account")
	}
}

func TestLikeDislikeFlow(t *testing.T) {
	a, mem := newTestApp(t)
	ctx := context.Background()
	seedBook(t, mem, "b1")
	user := domain.User{ID: "u1", Username: "reader"}

	count, err := a.Like(ctx, user, "b1")
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if count.Likes != 1 || count.Dislikes != 0 {
		t.Fatalf("counters = %+v, want likes=1 dislikes=0", count)
	}

	if _, err := a.Like(ctx, user, "b1"); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("repeat like err = %v, want ErrAlreadyVoted", err)
	}

	count, err = a.Dislike(ctx, user, "b1")
	if err != nil {
		t.Fatalf("switch to dislike: %v", err)
	}
	if count.Likes != 0 || count.Dislikes != 1 {
		t.Fatalf("counters after switch = %+v, want likes=0 dislikes=1", count)
	}

	vote, ok, err := a.GetVote(user, "b1")
	if err != nil || !ok {
		t.Fatalf("GetVote ok=%v err=%v", ok, err)
	}
	if vote.Choice != domain.ChoiceDislike {
		t.Fatalf("vote choice = %q, want dislike", vote.Choice)
	}

	if _, err := a.Like(ctx, user, "missing"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("unknown book err = %v, want ErrBookNotFound", err)
	}
}

func TestSubmitReviewValidation(t *testing.T) {
	a, mem := newTestApp(t)
	ctx := context.Background()
	seedBook(t, mem, "b1")
	user := domain.User{ID: "u1", Username: "reader"}

	cases := []struct {
		name   string
		text   string
		rating int
	}{
		{"rating too low", "fine", 0},
		{"rating too high", "fine", 6},
		{"empty text", "", 3},
		{"whitespace text", "   ", 3},
	}
	for _, tc := range cases {
		if _, err := a.SubmitReview(ctx, user, "b1", tc.text, tc.rating); !errors.Is(err, ErrInvalidReview) {
			t.Fatalf("%s: err = %v, want ErrInvalidReview", tc.name, err)
		}
	}

	if _, err := a.SubmitReview(ctx, user, "missing", "fine", 3); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("unknown book err = %v, want ErrBookNotFound", err)
	}
}

func TestSubmitReviewAveragesRatings(t *testing.T) {
	a, mem := newTestApp(t)
	ctx := context.Background()
	seedBook(t, mem, "b1")
	user := domain.User{ID: "u1", Username: "reader"}

	var avg float64
	var err error
	for _, rating := range []int{4, 5, 3} {
		avg, err = a.SubmitReview(ctx, user, "b1", "solid read", rating)
		if err != nil {
			t.Fatalf("submit rating %d: %v", rating, err)
		}
	}
	if math.Abs(avg-4.0) > 1e-9 {
		t.Fatalf("average = %f, want 4.0", avg)
	}

	reviews, err := a.ListReviews("b1")
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 3 {
		t.Fatalf("reviews = %d, want 3", len(reviews))
	}
	if reviews[0].Username != "reader" {
		t.Fatalf("review username = %q, want reader", reviews[0].Username)
	}
}

func TestAdminGates(t *testing.T) {
	a, _ := newTestApp(t)
	reader := domain.User{ID: "u1", Role: domain.RoleUser}

	if _, err := a.ListUsers(reader); !errors.Is(err, ErrForbidden) {
		t.Fatalf("ListUsers as user err = %v, want ErrForbidden", err)
	}
	role := domain.RoleAdmin
	if _, err := a.UpdateUser(reader, "u2", &role, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("UpdateUser as user err = %v, want ErrForbidden", err)
	}
	if _, err := a.CreateBook(context.Background(), reader, CreateBookInput{Title: "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("CreateBook as user err = %v, want ErrForbidden", err)
	}
	if err := a.DeleteBook(context.Background(), reader, "b1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("DeleteBook as user err = %v, want ErrForbidden", err)
	}
}

func TestRecommendationsFallbackWithoutActivity(t *testing.T) {
	a, mem := newTestApp(t)
	ctx := context.Background()
	for _, id := range []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7"} {
		seedBook(t, mem, id)
	}

	books, err := a.Recommendations(ctx, domain.User{ID: "u1"})
	if err != nil {
		t.Fatalf("recommendations: %v", err)
	}
	if len(books) == 0 || len(books) > 5 {
		t.Fatalf("recommendations = %d books, want 1..5", len(books))
	}
}

func TestAskWithoutBackendReturnsCannedAnswer(t *testing.T) {
	a, _ := newTestApp(t)

	answer, err := a.Ask(context.Background(), "where do I find sci-fi?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer == "" {
		t.Fatalf("ask returned empty answer")
	}
	if _, err := a.Ask(context.Background(), "   "); err == nil {
		t.Fatalf("ask accepted an empty question")
	}
}
