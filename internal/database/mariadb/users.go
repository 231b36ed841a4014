package mariadb

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
	_, err := s.pool.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		u.Username, u.PasswordHash, created.Unix())
	if mysqlErrorNumber(err) == errDuplicateEntry {
		return database.ErrUserExists
	}
	if err != nil {
		return database.Wrap("create user", err)
	}
	return nil
}

// GetUser looks up an account by name.
func (s *Store) GetUser(ctx context.Context, username string) (*database.User, error) {
	var (
		u       database.User
		created int64
	)
	err := s.pool.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM users WHERE username = ?`, username).
		Scan(&u.Username, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get user", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// CheckScheme pins the fingerprint scheme in store_meta.
func (s *Store) CheckScheme(ctx context.Context, scheme string) error {
	db := s.pool.db
	if _, err := db.ExecContext(ctx,
		`INSERT IGNORE INTO store_meta (meta_key, meta_value) VALUES ('fingerprint_scheme', ?)`, scheme); err != nil {
		return database.Wrap("check scheme", err)
	}

	var stored string
	if err := db.QueryRowContext(ctx,
		`SELECT meta_value FROM store_meta WHERE meta_key = 'fingerprint_scheme'`).Scan(&stored); err != nil {
		return database.Wrap("check scheme", err)
	}
	if stored != scheme {
		return fmt.Errorf("%w: store holds %s, requested %s", database.ErrSchemeMismatch, stored, scheme)
	}
	return nil
}
