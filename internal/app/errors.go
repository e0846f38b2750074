package app

import "errors"

var (
	// ErrAlreadyVoted indicates the user already holds this choice for the book.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrInvalidReview indicates a rating out of [1,5] or empty review text.
	ErrInvalidReview = errors.New("invalid review")
	// ErrBookNotFound indicates the referenced book does not exist.
	ErrBookNotFound = errors.New("book not found")
	// ErrForbidden indicates the caller lacks permission for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken indicates a signup with an existing email.
	ErrEmailTaken = errors.New("email already exists")
	// ErrInvalidSignup indicates missing signup fields.
	ErrInvalidSignup = errors.New("email, username and password required")
)
