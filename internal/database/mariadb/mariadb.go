// Package mariadb implements database.Store on MariaDB or MySQL via
// go-sql-driver/mysql.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
)

const defaultPort = "3306"

func init() {
	database.RegisterBackend("mysql", Open)
}

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// DSNFromURL converts a mysql:// or mariadb:// URL into a driver DSN.
// Only the tls query parameter is carried over.
func DSNFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid MariaDB URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "mysql", "mariadb":
	default:
		return "", fmt.Errorf("not a MariaDB URL: %q", u.Redacted())
	}
	if u.Hostname() == "" {
		return "", errors.New("MariaDB URL has no host")
	}

	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = u.Host
	if u.Port() == "" {
		c.Addr = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	c.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		c.User = u.User.Username()
		c.Passwd, _ = u.User.Password()
	}
	c.TLSConfig = u.Query().Get("tls")
	c.Collation = "utf8mb4_bin"
	return c.FormatDSN(), nil
}

// NewPool creates a new MariaDB connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("MariaDB URL is required")
	}
	dsn, err := DSNFromURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// NewPoolFromDB wraps an existing handle, e.g. one created by sqlmock.
func NewPoolFromDB(db *sql.DB) *Pool {
	return &Pool{db: db}
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Store is the MariaDB FingerprintStore. Every record row carries its
// position inside the fingerprint's bucket; fingerprint_buckets holds the
// bucket size and its row lock serializes appends to one bucket.
type Store struct {
	pool *Pool
	opts database.Options
}

// New wraps a migrated pool.
func New(pool *Pool, opts ...database.Option) *Store {
	return &Store{pool: pool, opts: database.ApplyOptions(opts...)}
}

// Open is the database.Opener for mysql:// and mariadb:// URLs.
func Open(ctx context.Context, cfg *config.DatabaseConfig, opts ...database.Option) (database.Store, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	s := New(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate MariaDB: %w", err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id          VARCHAR(32)  NOT NULL PRIMARY KEY,
		fingerprint CHAR(16)     NOT NULL,
		position    INT UNSIGNED NOT NULL,
		owner       VARCHAR(255) NOT NULL,
		title       TEXT         NOT NULL,
		description TEXT         NOT NULL,
		tags        TEXT         NOT NULL,
		image_url   TEXT         NOT NULL,
		media_type  VARCHAR(100) NOT NULL,
		width       INT          NOT NULL,
		height      INT          NOT NULL,
		created_at  BIGINT       NOT NULL,
		UNIQUE KEY images_bucket (fingerprint, position)
	) DEFAULT CHARSET = utf8mb4 COLLATE = utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS fingerprint_buckets (
		fingerprint CHAR(16)     NOT NULL PRIMARY KEY,
		size        INT UNSIGNED NOT NULL
	) DEFAULT CHARSET = utf8mb4 COLLATE = utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS users (
		username      VARCHAR(255)   NOT NULL PRIMARY KEY,
		password_hash VARBINARY(255) NOT NULL,
		created_at    BIGINT         NOT NULL
	) DEFAULT CHARSET = utf8mb4 COLLATE = utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS store_meta (
		meta_key   VARCHAR(64)  NOT NULL PRIMARY KEY,
		meta_value VARCHAR(255) NOT NULL
	) DEFAULT CHARSET = utf8mb4 COLLATE = utf8mb4_bin`,
}

// Migrate creates missing tables. The driver runs one statement per Exec.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// isPrimaryKeyDuplicate reports a 1062 on the primary key. MariaDB names it
// 'PRIMARY', MySQL 8 'images.PRIMARY'.
func isPrimaryKeyDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != errDuplicateEntry {
		return false
	}
	return strings.HasSuffix(myErr.Message, "PRIMARY'")
}

func mysqlErrorNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}
