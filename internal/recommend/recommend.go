package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"libris/internal/util"
	"libris/pkg/domain"
	"libris/pkg/store"
)

const maxRecommendations = 5

// Recommender produces book suggestions for a user.
type Recommender struct {
	baseURL    string
	httpClient *http.Client
	store      store.Store
}

// New builds a recommender. baseURL may be empty, in which case only
// the local fallback is used.
func New(baseURL string, st store.Store) *Recommender {
	return &Recommender{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		store:      st,
	}
}

// ForUser asks the external recommendation service and falls back to a
// local catalog query when the service is unreachable or unconfigured.
func (r *Recommender) ForUser(ctx context.Context, userID string) ([]domain.Book, error) {
	if r.baseURL != "" {
		books, err := r.remote(ctx, userID)
		if err == nil {
			return books, nil
		}
		util.LoggerFromContext(ctx).Warn("recommender unavailable, using local fallback", "err", err)
	}
	return r.local(ctx, userID)
}

type remoteResponse struct {
	Recommendations []domain.Book `json:"recommendations"`
}

func (r *Recommender) remote(ctx context.Context, userID string) ([]domain.Book, error) {
	endpoint := r.baseURL + "/recommendations?user_id=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recommender request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recommender status %s", resp.Status)
	}
	var body remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("recommender decode: %w", err)
	}
	return body.Recommendations, nil
}

// local is the fallback: books sharing genres or an author with what
// the user already likes, or a random sample when there is no history.
func (r *Recommender) local(ctx context.Context, userID string) ([]domain.Book, error) {
	var all, liked []domain.Book
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		books, err := r.store.ListBooks(store.BookQuery{})
		all = books
		return err
	})
	g.Go(func() error {
		books, err := r.store.ListLikedBooks(userID)
		liked = books
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fallback query: %w", err)
	}

	likedIDs := make(map[string]struct{}, len(liked))
	for _, b := range liked {
		likedIDs[b.ID] = struct{}{}
	}

	if len(liked) == 0 {
		return sampleBooks(all, maxRecommendations), nil
	}

	genres := make(map[string]struct{})
	authors := make(map[string]struct{})
	for _, b := range liked {
		for _, genre := range b.Genres {
			genres[strings.ToLower(genre)] = struct{}{}
		}
		if a := strings.ToLower(strings.TrimSpace(b.Author)); a != "" {
			authors[a] = struct{}{}
		}
	}

	type scored struct {
		book  domain.Book
		score int
	}
	candidates := make([]scored, 0, len(all))
	for _, b := range all {
		if _, ok := likedIDs[b.ID]; ok {
			continue
		}
		score := 0
		for _, genre := range b.Genres {
			if _, ok := genres[strings.ToLower(genre)]; ok {
				score++
			}
		}
		if _, ok := authors[strings.ToLower(strings.TrimSpace(b.Author))]; ok {
			score += 2
		}
		if score > 0 {
			candidates = append(candidates, scored{book: b, score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	res := make([]domain.Book, 0, maxRecommendations)
	for _, c := range candidates {
		if len(res) == maxRecommendations {
			break
		}
		res = append(res, c.book)
	}
	if len(res) == 0 {
		return sampleBooks(all, maxRecommendations), nil
	}
	return res, nil
}

func sampleBooks(books []domain.Book, n int) []domain.Book {
	if len(books) <= n {
		return append([]domain.Book(nil), books...)
	}
	shuffled := append([]domain.Book(nil), books...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}
