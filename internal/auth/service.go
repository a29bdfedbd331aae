package auth

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codecollab/server/internal/db"
)

var (
	// ErrEmailTaken is returned by Signup when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned by Login on a bad email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrBadInput is returned when a signup field fails validation.
	ErrBadInput = errors.New("invalid signup input")
)

// Display colors assigned to users at signup, picked deterministically
// from the user id.
var colorPalette = []string{
	"#3b82f6", "#8b5cf6", "#ec4899", "#ef4444", "#f97316",
	"#eab308", "#22c55e", "#14b8a6", "#06b6d4", "#6366f1",
}

// Service owns identity: signup, login and token verification.
type Service struct {
	store  *db.Database
	tokens *TokenManager
	hasher *PasswordHasher
	log    *zap.Logger
}

func NewService(store *db.Database, tokens *TokenManager, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		hasher: NewPasswordHasher(),
		log:    log,
	}
}

// Signup registers a new user and returns the user plus a bearer token.
func (s *Service) Signup(ctx context.Context, name, email, password string) (*db.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" || !strings.Contains(email, "@") || len(password) < 6 {
		return nil, "", ErrBadInput
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return nil, "", ErrEmailTaken
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, "", err
	}

	user := &db.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	user.Color = colorFor(user.ID)

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(user.ID, user.Name)
	if err != nil {
		return nil, "", err
	}

	s.log.Info("user signed up", zap.String("user_id", user.ID))
	return user, token, nil
}

// Login authenticates by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*db.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil || !s.hasher.Verify(password, user.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Name)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Verify validates a bearer token and returns its claims.
func (s *Service) Verify(token string) (*Claims, error) {
	return s.tokens.Verify(token)
}

// UserByID loads the stable identity behind a validated token.
func (s *Service) UserByID(ctx context.Context, id string) (*db.User, error) {
	return s.store.GetUserByID(ctx, id)
}

func colorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return colorPalette[h.Sum32()%uint32(len(colorPalette))]
}
