// Package sqlite implements database.Store on an embedded SQLite file using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// DefaultURL is used when DATABASE_URL is not set.
const DefaultURL = "sqlite://./data/photo-finder.db"

const busyTimeoutMillis = 10000

func init() {
	database.RegisterBackend("sqlite", Open)
}

// Store persists records in two tables: images (id -> record) and
// fingerprint_buckets (fingerprint -> JSON array of ids).
type Store struct {
	db   *sql.DB
	opts database.Options
}

// Open is the database.Opener for sqlite:// URLs.
func Open(ctx context.Context, cfg *config.DatabaseConfig, opts ...database.Option) (database.Store, error) {
	path, err := PathFromURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 && path != ":memory:" {
		s.db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return s, nil
}

// PathFromURL extracts the file path from a sqlite:// URL.
func PathFromURL(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "sqlite://") {
		return "", fmt.Errorf("not a sqlite URL: %q", rawURL)
	}
	path := strings.TrimPrefix(rawURL, "sqlite://")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("invalid sqlite path: %w", err)
	}
	if path == "" {
		return "", errors.New("sqlite URL has no path")
	}
	return path, nil
}

// New opens (creating if needed) the database file at path and migrates it.
func New(ctx context.Context, path string, opts ...database.Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busyTimeoutMillis)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, opts: database.ApplyOptions(opts...)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS images (
		id          TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		owner       TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		tags        TEXT NOT NULL DEFAULT '[]',
		image_url   TEXT NOT NULL DEFAULT '',
		media_type  TEXT NOT NULL DEFAULT '',
		width       INTEGER NOT NULL,
		height      INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS fingerprint_buckets (
		fingerprint TEXT PRIMARY KEY,
		image_ids   TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY,
		password_hash BLOB NOT NULL,
		created_at    INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS store_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// DB returns the underlying sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing sqlite: %w", err)
	}
	return nil
}

// Insert writes the record and appends its id to the bucket in one
// IMMEDIATE transaction.
func (s *Store) Insert(ctx context.Context, rec *database.ImageRecord) (string, error) {
	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return "", database.Wrap("insert", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", database.Wrap("insert", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	var id string
	for {
		id = s.opts.NewID()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO images (id, fingerprint, owner, title, description, tags, image_url, media_type, width, height, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			id, rec.Fingerprint.String(), rec.Owner, rec.Title, rec.Description, string(tags),
			rec.ImageURL, rec.MediaType, rec.Width, rec.Height, rec.CreatedAt)
		if err != nil {
			return "", database.Wrap("insert", fmt.Errorf("inserting image: %w", err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", database.Wrap("insert", err)
		}
		if n == 1 {
			break
		}
		s.opts.Logger.Debug("id collision, regenerating", "id", id)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fingerprint_buckets (fingerprint, image_ids) VALUES (?, json_array(?))
		ON CONFLICT (fingerprint) DO UPDATE
		SET image_ids = json_insert(fingerprint_buckets.image_ids, '$[#]', ?)`,
		rec.Fingerprint.String(), id, id)
	if err != nil {
		return "", database.Wrap("insert", fmt.Errorf("appending to bucket: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return "", database.Wrap("insert", fmt.Errorf("committing: %w", err))
	}
	rec.ID = id
	return id, nil
}

const recordColumns = `i.id, i.fingerprint, i.owner, i.title, i.description, i.tags, i.image_url, i.media_type, i.width, i.height, i.created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*database.ImageRecord, error) {
	var (
		r      database.ImageRecord
		fpHex  string
		tagsJS string
	)
	if err := row.Scan(&r.ID, &fpHex, &r.Owner, &r.Title, &r.Description, &tagsJS,
		&r.ImageURL, &r.MediaType, &r.Width, &r.Height, &r.CreatedAt); err != nil {
		return nil, err
	}
	fp, err := fingerprint.Parse(fpHex)
	if err != nil {
		return nil, err
	}
	r.Fingerprint = fp
	if err := json.Unmarshal([]byte(tagsJS), &r.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", r.ID, err)
	}
	r.Tags = nonNil(r.Tags)
	return &r, nil
}

// GetByID looks up one record.
func (s *Store) GetByID(ctx context.Context, id string) (*database.ImageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM images i WHERE i.id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get", err)
	}
	return r, nil
}

// bucketQuery expands the JSON id array in array order, so records come back
// grouped by fingerprint and in insertion order within each bucket.
const bucketQuery = `
	SELECT ` + recordColumns + `
	FROM fingerprint_buckets b, json_each(b.image_ids) j
	JOIN images i ON i.id = j.value`

// BucketFor returns the records sharing fp.
func (s *Store) BucketFor(ctx context.Context, fp fingerprint.Fingerprint) (database.Bucket, error) {
	out := database.Bucket{Fingerprint: fp}
	rows, err := s.db.QueryContext(ctx, bucketQuery+` WHERE b.fingerprint = ? ORDER BY j.key`, fp.String())
	if err != nil {
		return out, database.Wrap("bucket", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return database.Bucket{Fingerprint: fp}, database.Wrap("bucket", err)
		}
		out.Records = append(out.Records, *r)
	}
	if err := rows.Err(); err != nil {
		return database.Bucket{Fingerprint: fp}, database.Wrap("bucket", err)
	}
	return out, nil
}

// IterFingerprints streams every bucket from a single query, which SQLite
// runs against one read snapshot.
func (s *Store) IterFingerprints(ctx context.Context) iter.Seq2[database.Bucket, error] {
	return func(yield func(database.Bucket, error) bool) {
		rows, err := s.db.QueryContext(ctx, bucketQuery+` ORDER BY b.fingerprint, j.key`)
		if err != nil {
			yield(database.Bucket{}, database.Wrap("iterate", err))
			return
		}
		defer rows.Close()

		var cur database.Bucket
		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				yield(database.Bucket{}, database.Wrap("iterate", err))
				return
			}
			if len(cur.Records) > 0 && cur.Fingerprint != r.Fingerprint {
				if !yield(cur, nil) {
					return
				}
				cur = database.Bucket{}
			}
			cur.Fingerprint = r.Fingerprint
			cur.Records = append(cur.Records, *r)
		}
		if err := rows.Err(); err != nil {
			yield(database.Bucket{}, database.Wrap("iterate", err))
			return
		}
		if len(cur.Records) > 0 {
			yield(cur, nil)
		}
	}
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, database.Wrap("count", err)
	}
	return n, nil
}

// CreateUser inserts an account.
func (s *Store) CreateUser(ctx context.Context, u *database.User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?) ON CONFLICT (username) DO NOTHING`,
		u.Username, u.PasswordHash, created.Unix())
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

// GetUser looks up an account.
func (s *Store) GetUser(ctx context.Context, username string) (*database.User, error) {
	var (
		u       database.User
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT username, password_hash, created_at FROM users WHERE username = ?`, username).
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

// CheckScheme stores the scheme on first use and compares it afterwards.
func (s *Store) CheckScheme(ctx context.Context, scheme string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES ('fingerprint_scheme', ?) ON CONFLICT (key) DO NOTHING`, scheme); err != nil {
		return database.Wrap("check scheme", err)
	}
	var stored string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'fingerprint_scheme'`).Scan(&stored); err != nil {
		return database.Wrap("check scheme", err)
	}
	if stored != scheme {
		return fmt.Errorf("%w: store holds %s, requested %s", database.ErrSchemeMismatch, stored, scheme)
	}
	return nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
