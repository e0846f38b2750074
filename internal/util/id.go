package util

import "github.com/google/uuid"

// NewID returns a random identifier for users, books, reviews, session
// tokens and request ids.
func NewID() string {
	return uuid.NewString()
}
