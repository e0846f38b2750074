package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"libris/internal/assistant"
	"libris/internal/ingest"
	"libris/internal/notify"
	"libris/internal/recommend"
	"libris/internal/util"
	"libris/pkg/auth"
	"libris/pkg/domain"
	"libris/pkg/storage"
	"libris/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration
	JWTSecret     string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	RecommenderURL  string
	AssistantURL    string
	AssistantAPIKey string
	AssistantModel  string
	AMQPURL         string
	EmailQueue      string

	PresignExpiry time.Duration

	// Injectable implementations, used by tests.
	Store     store.Store
	Sessions  store.SessionStore
	Objects   storage.ObjectStore
	Mailer    notify.Mailer
	Generator assistant.TextGenerator
}

// App wires storage, sessions, and the auxiliary services behind the
// HTTP layer. It holds no request state; every instance is equivalent.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	objects       storage.ObjectStore
	mailer        notify.Mailer
	generator     assistant.TextGenerator
	recommender   *recommend.Recommender
	presignExpiry time.Duration
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.PresignExpiry == 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch {
		case cfg.JWTSecret != "":
			sessionStore = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
		case cfg.RedisAddr != "":
			sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		default:
			return nil, fmt.Errorf("session store required (jwtSecret or redisAddr)")
		}
	}

	objects := cfg.Objects
	if objects == nil && cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		objects = minioStore
	}

	mailer := cfg.Mailer
	if mailer == nil && cfg.AMQPURL != "" {
		amqpMailer, err := notify.NewAMQPMailer(cfg.AMQPURL, cfg.EmailQueue)
		if err != nil {
			return nil, fmt.Errorf("init mailer: %w", err)
		}
		mailer = amqpMailer
	}

	generator := cfg.Generator
	if generator == nil && cfg.AssistantURL != "" {
		generator = assistant.NewChatClient(cfg.AssistantURL, cfg.AssistantAPIKey, cfg.AssistantModel)
	}

	return &App{
		store:         dataStore,
		sessions:      sessionStore,
		objects:       objects,
		mailer:        mailer,
		generator:     generator,
		recommender:   recommend.New(cfg.RecommenderURL, dataStore),
		presignExpiry: cfg.PresignExpiry,
	}, nil
}

// SignUp registers a new user. The first account becomes admin.
func (a *App) SignUp(ctx context.Context, email, username, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if email == "" || username == "" || password == "" {
		return domain.User{}, "", ErrInvalidSignup
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailTaken
	}
	role := domain.RoleUser
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, "", fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	a.sendEmail(ctx, notify.EmailJob{
		To:      user.Email,
		Subject: "Welcome to Libris",
		Body:    fmt.Sprintf("Hi %s, your library account is ready.", user.Username),
	})
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, "", ErrForbidden
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, false
	}
	return user, true
}

// Logout removes a session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// ListUsers returns all users (admin use only).
func (a *App) ListUsers(actor domain.User) ([]domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	return a.store.ListUsers()
}

// UpdateUser changes role and/or status of a user (admin use only).
func (a *App) UpdateUser(actor domain.User, id string, role *domain.UserRole, status *domain.UserStatus) (domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.User{}, ErrForbidden
	}
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, errors.New("user not found")
	}
	if role != nil {
		user.Role = *role
	}
	if status != nil {
		user.Status = *status
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// CreateBookInput carries catalog metadata and an optional file upload.
type CreateBookInput struct {
	Title       string
	Author      string
	Description string
	Genres      []string
	CoverURL    string
	Filename    string
	File        io.Reader
	Size        int64
}

// CreateBook adds a catalog entry (admin use only). An attached PDF is
// sniffed for page count and a title fallback before upload.
func (a *App) CreateBook(ctx context.Context, actor domain.User, in CreateBookInput) (domain.Book, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Book{}, ErrForbidden
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:          util.NewID(),
		Title:       strings.TrimSpace(in.Title),
		Author:      strings.TrimSpace(in.Author),
		Description: ingest.StripHTML(in.Description),
		Genres:      normalizeGenres(in.Genres),
		CoverURL:    strings.TrimSpace(in.CoverURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if in.File != nil {
		if a.objects == nil {
			return domain.Book{}, errors.New("object storage not configured")
		}
		ext := strings.ToLower(filepath.Ext(in.Filename))
		tmp, err := os.CreateTemp("", "libris-upload-*")
		if err != nil {
			return domain.Book{}, fmt.Errorf("temp file: %w", err)
		}
		defer os.Remove(tmp.Name())
		size, err := io.Copy(tmp, in.File)
		if err != nil {
			tmp.Close()
			return domain.Book{}, fmt.Errorf("buffer upload: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return domain.Book{}, fmt.Errorf("close temp file: %w", err)
		}

		if ext == ".pdf" {
			if meta, err := ingest.SniffPDF(tmp.Name()); err == nil {
				book.PageCount = meta.PageCount
				if book.Title == "" {
					book.Title = meta.Title
				}
			} else {
				util.LoggerFromContext(ctx).Warn("pdf sniff failed", "filename", in.Filename, "err", err)
			}
		}

		file, err := os.Open(tmp.Name())
		if err != nil {
			return domain.Book{}, fmt.Errorf("reopen temp file: %w", err)
		}
		defer file.Close()
		key := storage.NewBookFileKey(ext)
		if err := a.objects.Put(ctx, key, file, size, contentTypeByExt(ext)); err != nil {
			return domain.Book{}, fmt.Errorf("store file: %w", err)
		}
		book.FileKey = key
		book.OriginalFilename = filepath.Base(in.Filename)
		book.SizeBytes = size
	}

	if book.Title == "" {
		book.Title = titleFromName(in.Filename)
	}
	if book.Title == "" {
		return domain.Book{}, errors.New("title required")
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// UpdateBookInput patches catalog metadata; nil fields are left alone.
type UpdateBookInput struct {
	Title       *string
	Author      *string
	Description *string
	Genres      *[]string
	CoverURL    *string
}

// UpdateBook edits catalog metadata (admin use only).
func (a *App) UpdateBook(actor domain.User, id string, in UpdateBookInput) (domain.Book, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Book{}, ErrForbidden
	}
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
		book.Title = strings.TrimSpace(*in.Title)
	}
	if in.Author != nil {
		book.Author = strings.TrimSpace(*in.Author)
	}
	if in.Description != nil {
		book.Description = ingest.StripHTML(*in.Description)
	}
	if in.Genres != nil {
		book.Genres = normalizeGenres(*in.Genres)
	}
	if in.CoverURL != nil {
		book.CoverURL = strings.TrimSpace(*in.CoverURL)
	}
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// DeleteBook removes a book, its votes and reviews, and its stored file.
func (a *App) DeleteBook(ctx context.Context, actor domain.User, id string) error {
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return ErrBookNotFound
	}
	if err := a.store.DeleteBook(id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if book.FileKey != "" && a.objects != nil {
		if err := a.objects.Delete(ctx, book.FileKey); err != nil {
			util.LoggerFromContext(ctx).Warn("delete book file", "book_id", id, "err", err)
		}
	}
	return nil
}

// ListBooks returns catalog entries matching the query.
func (a *App) ListBooks(q store.BookQuery) ([]domain.Book, error) {
	return a.store.ListBooks(q)
}

// GetBook retrieves a book by ID.
func (a *App) GetBook(id string) (domain.Book, bool, error) {
	return a.store.GetBook(id)
}

// DownloadURL returns a pre-signed URL for the book file and counts the
// download.
func (a *App) DownloadURL(ctx context.Context, id string) (string, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return "", fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return "", ErrBookNotFound
	}
	if book.FileKey == "" || a.objects == nil {
		return "", errors.New("book has no downloadable file")
	}
	url, err := a.objects.PresignGet(ctx, book.FileKey, a.presignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	if err := a.store.IncrementDownloads(id); err != nil {
		util.LoggerFromContext(ctx).Warn("count download", "book_id", id, "err", err)
	}
	return url, nil
}

// Like records a like vote for the user on the book and returns the
// committed counters.
func (a *App) Like(ctx context.Context, user domain.User, bookID string) (domain.VoteCount, error) {
	return a.castVote(ctx, user, bookID, domain.ChoiceLike)
}

// Dislike is the mirror of Like.
func (a *App) Dislike(ctx context.Context, user domain.User, bookID string) (domain.VoteCount, error) {
	return a.castVote(ctx, user, bookID, domain.ChoiceDislike)
}

func (a *App) castVote(ctx context.Context, user domain.User, bookID string, choice domain.VoteChoice) (domain.VoteCount, error) {
	count, err := a.store.CastVote(user.ID, bookID, choice)
	switch {
	case err == nil:
		return count, nil
	case errors.Is(err, store.ErrAlreadyVoted):
		return domain.VoteCount{}, ErrAlreadyVoted
	case errors.Is(err, store.ErrBookNotFound):
		return domain.VoteCount{}, ErrBookNotFound
	default:
		util.LoggerFromContext(ctx).Error("vote update failed",
			"user_id", user.ID, "book_id", bookID, "choice", string(choice), "err", err)
		return domain.VoteCount{}, fmt.Errorf("update vote: %w", err)
	}
}

// GetVote returns the user's current vote for a book, if any.
func (a *App) GetVote(user domain.User, bookID string) (domain.Vote, bool, error) {
	return a.store.GetVote(user.ID, bookID)
}

// SubmitReview validates and stores a review, returning the book's new
// average rating.
func (a *App) SubmitReview(ctx context.Context, user domain.User, bookID, text string, rating int) (float64, error) {
	if rating < 1 || rating > 5 || strings.TrimSpace(text) == "" {
		return 0, ErrInvalidReview
	}
	review := domain.Review{
		ID:        util.NewID(),
		BookID:    bookID,
		UserID:    user.ID,
		Username:  user.Username,
		Text:      strings.TrimSpace(text),
		Rating:    rating,
		CreatedAt: time.Now().UTC(),
	}
	avg, err := a.store.AddReview(review)
	if err != nil {
		if errors.Is(err, store.ErrBookNotFound) {
			return 0, ErrBookNotFound
		}
		util.LoggerFromContext(ctx).Error("review update failed",
			"user_id", user.ID, "book_id", bookID, "err", err)
		return 0, fmt.Errorf("add review: %w", err)
	}
	a.sendEmail(ctx, notify.EmailJob{
		To:      user.Email,
		Subject: "Your review is live",
		Body:    fmt.Sprintf("Thanks %s, your review was published.", user.Username),
	})
	return avg, nil
}

// ListReviews returns a book's reviews.
func (a *App) ListReviews(bookID string) ([]domain.Review, error) {
	return a.store.ListReviews(bookID)
}

// Recommendations returns book suggestions for the user.
func (a *App) Recommendations(ctx context.Context, user domain.User) ([]domain.Book, error) {
	return a.recommender.ForUser(ctx, user.ID)
}

const assistantSystemPrompt = "You are the helpful assistant of a public library. " +
	"Answer questions about finding, borrowing and reviewing books. Be brief."

// Ask forwards a question to the assistant backend. Without a
// configured backend it returns a canned pointer to the catalog.
func (a *App) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question required")
	}
	if a.generator == nil {
		return "I can help you browse the catalog: try searching by title or author on the books page.", nil
	}
	answer, err := a.generator.GenerateText(ctx, assistantSystemPrompt, question)
	if err != nil {
		return "", fmt.Errorf("assistant: %w", err)
	}
	return answer, nil
}

// sendEmail enqueues mail best-effort; delivery failures never fail the
// calling operation.
func (a *App) sendEmail(ctx context.Context, job notify.EmailJob) {
	if a.mailer == nil {
		return
	}
	if err := a.mailer.Send(ctx, job); err != nil {
		slog.Warn("enqueue email", "to", job.To, "subject", job.Subject, "err", err)
	}
}

func normalizeGenres(genres []string) []string {
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		out = append(out, g)
	}
	return out
}

func titleFromName(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	base := filepath.Base(name)
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

func contentTypeByExt(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".epub":
		return "application/epub+zip"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
