package store

import (
	"errors"

	"libris/pkg/domain"
)

var (
	// ErrAlreadyVoted means the user already holds the requested choice
	// for the book. Repeating the same vote is rejected, not absorbed.
	ErrAlreadyVoted = errors.New("vote already cast")

	// ErrBookNotFound means the referenced book does not exist.
	ErrBookNotFound = errors.New("book not found")
)

// BookQuery filters catalog listings.
type BookQuery struct {
	Search string // matches title or author, case-insensitive
	Genre  string
}

// Store defines persistence operations for users, books, votes, and reviews.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UserCount() (int, error)

	// books
	SaveBook(domain.Book) error
	ListBooks(q BookQuery) ([]domain.Book, error)
	GetBook(id string) (domain.Book, bool, error)
	DeleteBook(id string) error
	IncrementDownloads(id string) error

	// votes. CastVote enforces the at-most-one-vote rule and keeps the
	// book's like/dislike counters equal to the vote rows, all inside
	// one transaction. Casting the choice already held returns
	// ErrAlreadyVoted with no mutation.
	CastVote(userID, bookID string, choice domain.VoteChoice) (domain.VoteCount, error)
	GetVote(userID, bookID string) (domain.Vote, bool, error)
	ListLikedBooks(userID string) ([]domain.Book, error)

	// reviews. AddReview inserts the row and recomputes the book's
	// average rating from all of its reviews in the same transaction.
	AddReview(domain.Review) (float64, error)
	ListReviews(bookID string) ([]domain.Review, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
