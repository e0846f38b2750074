package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"libris/pkg/domain"
)

// MemoryStore is an in-process Store used by tests. Its vote and review
// paths follow the same contract as GormStore: one vote row per
// (user, book), counters floored at zero, same-choice repeats rejected,
// average rating recomputed from the review rows.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]domain.User
	email   map[string]string // email -> user ID
	books   map[string]domain.Book
	order   []string
	votes   map[string]domain.Vote // userID+"/"+bookID
	reviews map[string][]domain.Review
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]domain.User),
		email:   make(map[string]string),
		books:   make(map[string]domain.Book),
		votes:   make(map[string]domain.Vote),
		reviews: make(map[string][]domain.Review),
	}
}

func voteKey(userID, bookID string) string {
	return userID + "/" + bookID
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	user, ok := m.users[id]
	return user, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	return user, ok, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) UserCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.books[b.ID]; ok {
		// Counters stay owned by the vote/review paths.
		b.Likes = existing.Likes
		b.Dislikes = existing.Dislikes
		b.AverageRating = existing.AverageRating
		b.Downloads = existing.Downloads
	} else {
		m.order = append(m.order, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) ListBooks(q BookQuery) ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(q.Search))
	genre := strings.TrimSpace(q.Genre)
	res := make([]domain.Book, 0, len(m.order))
	for _, id := range m.order {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(b.Title), search) &&
			!strings.Contains(strings.ToLower(b.Author), search) {
			continue
		}
		if genre != "" && !containsGenre(b.Genres, genre) {
			continue
		}
		res = append(res, b)
	}
	return res, nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	delete(m.reviews, id)
	for key := range m.votes {
		if strings.HasSuffix(key, "/"+id) {
			delete(m.votes, key)
		}
	}
	return nil
}

func (m *MemoryStore) IncrementDownloads(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrBookNotFound
	}
	b.Downloads++
	m.books[id] = b
	return nil
}

func (m *MemoryStore) CastVote(userID, bookID string, choice domain.VoteChoice) (domain.VoteCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[bookID]
	if !ok {
		return domain.VoteCount{}, ErrBookNotFound
	}
	now := time.Now().UTC()
	key := voteKey(userID, bookID)
	if prev, ok := m.votes[key]; ok {
		if prev.Choice == choice {
			return domain.VoteCount{}, ErrAlreadyVoted
		}
		switch prev.Choice {
		case domain.ChoiceLike:
			if book.Likes > 0 {
				book.Likes--
			}
		case domain.ChoiceDislike:
			if book.Dislikes > 0 {
				book.Dislikes--
			}
		}
		prev.Choice = choice
		prev.UpdatedAt = now
		m.votes[key] = prev
	} else {
		m.votes[key] = domain.Vote{
			UserID:    userID,
			BookID:    bookID,
			Choice:    choice,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	switch choice {
	case domain.ChoiceLike:
		book.Likes++
	case domain.ChoiceDislike:
		book.Dislikes++
	}
	m.books[bookID] = book
	return domain.VoteCount{Likes: book.Likes, Dislikes: book.Dislikes}, nil
}

func (m *MemoryStore) GetVote(userID, bookID string) (domain.Vote, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.votes[voteKey(userID, bookID)]
	return v, ok, nil
}

func (m *MemoryStore) ListLikedBooks(userID string) ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.Book
	for _, id := range m.order {
		v, ok := m.votes[voteKey(userID, id)]
		if !ok || v.Choice != domain.ChoiceLike {
			continue
		}
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) AddReview(r domain.Review) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[r.BookID]
	if !ok {
		return 0, ErrBookNotFound
	}
	m.reviews[r.BookID] = append(m.reviews[r.BookID], r)
	var sum int
	for _, rev := range m.reviews[r.BookID] {
		sum += rev.Rating
	}
	avg := float64(sum) / float64(len(m.reviews[r.BookID]))
	book.AverageRating = avg
	m.books[r.BookID] = book
	return avg, nil
}

func (m *MemoryStore) ListReviews(bookID string) ([]domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reviews := m.reviews[bookID]
	res := make([]domain.Review, len(reviews))
	for i, r := range reviews {
		res[len(reviews)-1-i] = r
	}
	return res, nil
}

func containsGenre(genres []string, genre string) bool {
	for _, g := range genres {
		if strings.EqualFold(g, genre) {
			return true
		}
	}
	return false
}
