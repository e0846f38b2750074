package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"libris/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &BookModel{}, &VoteModel{}, &ReviewModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "username", "password_hash", "role", "status", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveBook stores or updates a book's catalog metadata. The derived
// counters are deliberately absent from the update column list.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "author", "description", "genres", "cover_url", "file_key",
			"original_filename", "size_bytes", "page_count", "updated_at",
		}),
	}).Create(&model).Error
}

// ListBooks returns books matching the query, ordered by created_at.
func (s *GormStore) ListBooks(q BookQuery) ([]domain.Book, error) {
	tx := s.db.Order("created_at ASC")
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		tx = tx.Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ?", pattern, pattern)
	}
	if genre := strings.TrimSpace(q.Genre); genre != "" {
		tx = tx.Where("genres @> ?", fmt.Sprintf(`[%q]`, genre))
	}
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// DeleteBook removes the book with its votes and reviews.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&VoteModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ReviewModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// IncrementDownloads bumps the download counter.
func (s *GormStore) IncrementDownloads(id string) error {
	return s.db.Model(&BookModel{}).Where("id = ?", id).
		Update("downloads", gorm.Expr("downloads + 1")).Error
}

// CastVote records the user's choice for a book and adjusts the book's
// counters, all in one transaction. The book row is locked FOR UPDATE
// first, so concurrent votes on the same book serialize; the unique
// index on (user_id, book_id) backs the vote upsert. Repeating the
// currently held choice returns ErrAlreadyVoted without mutation.
func (s *GormStore) CastVote(userID, bookID string, choice domain.VoteChoice) (domain.VoteCount, error) {
	now := time.Now().UTC()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var book BookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&book, "id = ?", bookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return fmt.Errorf("lock book: %w", err)
		}

		var prev VoteModel
		err := tx.Where("user_id = ? AND book_id = ?", userID, bookID).First(&prev).Error
		switch {
		case err == nil:
			if prev.Choice == string(choice) {
				return ErrAlreadyVoted
			}
			// Switching sides: release the old counter, floored at zero.
			switch domain.VoteChoice(prev.Choice) {
			case domain.ChoiceLike:
				book.Likes = floorZero(book.Likes - 1)
			case domain.ChoiceDislike:
				book.Dislikes = floorZero(book.Dislikes - 1)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First vote for this pair.
		default:
			return fmt.Errorf("read vote: %w", err)
		}

		switch choice {
		case domain.ChoiceLike:
			book.Likes++
		case domain.ChoiceDislike:
			book.Dislikes++
		default:
			return fmt.Errorf("unknown vote choice %q", choice)
		}

		if err := tx.Model(&BookModel{}).Where("id = ?", bookID).
			Updates(map[string]any{
				"likes":      book.Likes,
				"dislikes":   book.Dislikes,
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("update counters: %w", err)
		}

		vote := VoteModel{
			UserID:    userID,
			BookID:    bookID,
			Choice:    string(choice),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"choice", "updated_at"}),
		}).Create(&vote).Error; err != nil {
			return fmt.Errorf("upsert vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.VoteCount{}, err
	}

	// Read the committed counters back rather than trusting in-tx math.
	var book BookModel
	if err := s.db.Select("likes", "dislikes").First(&book, "id = ?", bookID).Error; err != nil {
		return domain.VoteCount{}, fmt.Errorf("read counters: %w", err)
	}
	return domain.VoteCount{Likes: book.Likes, Dislikes: book.Dislikes}, nil
}

// GetVote returns the user's current vote for a book, if any.
func (s *GormStore) GetVote(userID, bookID string) (domain.Vote, bool, error) {
	var model VoteModel
	err := s.db.Where("user_id = ? AND book_id = ?", userID, bookID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Vote{}, false, nil
		}
		return domain.Vote{}, false, err
	}
	return voteFromModel(model), true, nil
}

// ListLikedBooks returns the books a user currently likes, oldest first.
func (s *GormStore) ListLikedBooks(userID string) ([]domain.Book, error) {
	var models []BookModel
	err := s.db.Model(&BookModel{}).
		Joins("JOIN vote_models ON vote_models.book_id = book_models.id").
		Where("vote_models.user_id = ? AND vote_models.choice = ?", userID, string(domain.ChoiceLike)).
		Order("vote_models.created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// AddReview inserts the review and writes back AVG(rating) over every
// review of the book, in one transaction. The recompute races other
// reviewers of the same book across transactions; the value converges
// once writes stop, which is the accepted behavior.
func (s *GormStore) AddReview(r domain.Review) (float64, error) {
	var avg float64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&BookModel{}).Where("id = ?", r.BookID).Count(&count).Error; err != nil {
			return fmt.Errorf("check book: %w", err)
		}
		if count == 0 {
			return ErrBookNotFound
		}
		model := reviewToModel(r)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
		var res struct{ Avg sql.NullFloat64 }
		if err := tx.Model(&ReviewModel{}).Where("book_id = ?", r.BookID).
			Select("AVG(rating) AS avg").Scan(&res).Error; err != nil {
			return fmt.Errorf("compute average: %w", err)
		}
		if res.Avg.Valid {
			avg = res.Avg.Float64
		}
		if err := tx.Model(&BookModel{}).Where("id = ?", r.BookID).
			Updates(map[string]any{
				"average_rating": avg,
				"updated_at":     time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("update average: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return avg, nil
}

// ListReviews returns a book's reviews, newest first.
func (s *GormStore) ListReviews(bookID string) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.Where("book_id = ?", bookID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		Status:       status,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	genres, _ := json.Marshal(b.Genres)
	return BookModel{
		ID:               b.ID,
		Title:            b.Title,
		Author:           b.Author,
		Description:      b.Description,
		Genres:           genres,
		CoverURL:         b.CoverURL,
		FileKey:          b.FileKey,
		OriginalFilename: b.OriginalFilename,
		SizeBytes:        b.SizeBytes,
		PageCount:        b.PageCount,
		Likes:            b.Likes,
		Dislikes:         b.Dislikes,
		AverageRating:    b.AverageRating,
		Downloads:        b.Downloads,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	var genres []string
	if len(m.Genres) > 0 {
		_ = json.Unmarshal(m.Genres, &genres)
	}
	return domain.Book{
		ID:               m.ID,
		Title:            m.Title,
		Author:           m.Author,
		Description:      m.Description,
		Genres:           genres,
		CoverURL:         m.CoverURL,
		FileKey:          m.FileKey,
		OriginalFilename: m.OriginalFilename,
		SizeBytes:        m.SizeBytes,
		PageCount:        m.PageCount,
		Likes:            m.Likes,
		Dislikes:         m.Dislikes,
		AverageRating:    m.AverageRating,
		Downloads:        m.Downloads,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func voteFromModel(m VoteModel) domain.Vote {
	return domain.Vote{
		UserID:    m.UserID,
		BookID:    m.BookID,
		Choice:    domain.VoteChoice(m.Choice),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:        r.ID,
		BookID:    r.BookID,
		UserID:    r.UserID,
		Username:  r.Username,
		Text:      r.Text,
		Rating:    r.Rating,
		CreatedAt: r.CreatedAt,
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:        m.ID,
		BookID:    m.BookID,
		UserID:    m.UserID,
		Username:  m.Username,
		Text:      m.Text,
		Rating:    m.Rating,
		CreatedAt: m.CreatedAt,
	}
}
