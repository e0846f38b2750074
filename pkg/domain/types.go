package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// VoteChoice is a user's recorded reaction to a book.
type VoteChoice string

const (
	ChoiceLike    VoteChoice = "like"
	ChoiceDislike VoteChoice = "dislike"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Book carries catalog metadata plus derived aggregates. Likes, Dislikes
// and AverageRating are cached views over the votes and reviews tables;
// only the store's vote and review transactions may write them.
type Book struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Author           string    `json:"author"`
	Description      string    `json:"description"`
	Genres           []string  `json:"genres"`
	CoverURL         string    `json:"coverUrl,omitempty"`
	FileKey          string    `json:"-"`
	OriginalFilename string    `json:"originalFilename,omitempty"`
	SizeBytes        int64     `json:"sizeBytes,omitempty"`
	PageCount        int       `json:"pageCount,omitempty"`
	Likes            int       `json:"likes"`
	Dislikes         int       `json:"dislikes"`
	AverageRating    float64   `json:"averageRating"`
	Downloads        int64     `json:"downloads"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Vote is the single active choice a user holds for a book.
// At most one vote row exists per (UserID, BookID).
type Vote struct {
	UserID    string     `json:"userId"`
	BookID    string     `json:"bookId"`
	Choice    VoteChoice `json:"choice"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// VoteCount is the counter pair returned after a successful vote.
type VoteCount struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

type Review struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
}
