package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Username     string `gorm:"not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	Status       string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID               string         `gorm:"primaryKey"`
	Title            string         `gorm:"not null;index"`
	Author           string         `gorm:"index"`
	Description      string         `gorm:"type:text"`
	Genres           datatypes.JSON `gorm:"type:jsonb"`
	CoverURL         string
	FileKey          string
	OriginalFilename string
	SizeBytes        int64
	PageCount        int
	Likes            int       `gorm:"not null;default:0"`
	Dislikes         int       `gorm:"not null;default:0"`
	AverageRating    float64   `gorm:"not null;default:0"`
	Downloads        int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// VoteModel holds one row per (user, book). The composite unique index
// backs the upsert in CastVote and makes contending transactions on the
// same pair conflict instead of double-inserting.
type VoteModel struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_votes_user_book"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_votes_user_book;index"`
	Choice    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// ReviewModel has no uniqueness across (user, book): a user may review
// the same book more than once.
type ReviewModel struct {
	ID        string    `gorm:"primaryKey"`
	BookID    string    `gorm:"not null;index"`
	UserID    string    `gorm:"not null;index"`
	Username  string    `gorm:"not null"`
	Text      string    `gorm:"type:text;not null"`
	Rating    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}
