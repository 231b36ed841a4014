package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-finder/internal/database"
)

// CreateUser inserts an account or returns database.ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, u *database.User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.pool.DB().ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3) ON CONFLICT (username) DO NOTHING`,
		u.Username, u.PasswordHash, created)
	if err != nil {
		return database.Wrap("create user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.Wrap("create user", err)
	}
	if n == 0 {
		return database.ErrUserExists
	}
	return nil
}

// GetUser looks up an account by name.
func (s *Store) GetUser(ctx context.Context, username string) (*database.User, error) {
	var u database.User
	err := s.pool.DB().QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM users WHERE username = $1`, username).
		Scan(&u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get user", err)
	}
	return &u, nil
}

// CheckScheme pins the fingerprint scheme in store_meta.
func (s *Store) CheckScheme(ctx context.Context, scheme string) error {
	db := s.pool.DB()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES ('fingerprint_scheme', $1) ON CONFLICT (key) DO NOTHING`, scheme); err != nil {
		return database.Wrap("check scheme", err)
	}

	var stored string
	if err := db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'fingerprint_scheme'`).Scan(&stored); err != nil {
		return database.Wrap("check scheme", err)
	}
	if stored != scheme {
		return fmt.Errorf("%w: store holds %s, requested %s", database.ErrSchemeMismatch, stored, scheme)
	}
	return nil
}
