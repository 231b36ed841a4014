package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kozaktomas/photo-finder/internal/database"
)

const (
	maxUsernameLength = 64
	maxPasswordLength = 1024
)

var (
	// ErrInvalidCredentials is returned for an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("incorrect username or password")

	// ErrInvalidInput is returned for empty or oversized usernames and passwords.
	ErrInvalidInput = errors.New("invalid username or password")
)

// Service implements registration and login on top of a UserStore.
type Service struct {
	users  database.UserStore
	hasher *Hasher
	tokens *Tokens
	logger *slog.Logger
}

// NewService wires the account store, password hasher and token issuer.
func NewService(users database.UserStore, hasher *Hasher, tokens *Tokens, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, hasher: hasher, tokens: tokens, logger: logger}
}

// Tokens returns the token issuer, used by the HTTP middleware.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Register creates an account. A taken username yields database.ErrUserExists.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = NormalizeUsername(username)
	if err := validate(username, password); err != nil {
		return err
	}

	err := s.users.CreateUser(ctx, &database.User{
		Username:     username,
		PasswordHash: s.hasher.Hash(username, password),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("registering %s: %w", username, err)
	}
	s.logger.InfoContext(ctx, "user registered", "username", username)
	return nil
}

// Login verifies the password and returns a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	username = NormalizeUsername(username)
	if err := validate(username, password); err != nil {
		return "", err
	}

	user, err := s.users.GetUser(ctx, username)
	if errors.Is(err, database.ErrNotFound) {
		// Keep timing uniform for unknown users.
		s.hasher.Hash(username, password)
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("loading user %s: %w", username, err)
	}

	if !s.hasher.Verify(username, password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return s.tokens.Issue(username)
}

func validate(username, password string) error {
	switch {
	case username == "", password == "":
		return ErrInvalidInput
	case utf8.RuneCountInString(username) > maxUsernameLength, len(password) > maxPasswordLength:
		return ErrInvalidInput
	}
	return nil
}
