package storage

import (
	"strings"

	"github.com/google/uuid"
)

// NewBookFileKey returns a random object key under books/ for an
// uploaded book file, so re-uploads never collide.
func NewBookFileKey(ext string) string {
	return "books/" + uuid.NewString() + normalizeExt(ext)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
