// Package memory provides an in-process FingerprintStore backed by sync.Map.
// Each fingerprint bucket has its own mutex, so inserts to different
// fingerprints never contend.
package memory

import (
	"context"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

func init() {
	database.RegisterBackend("memory", func(_ context.Context, _ *config.DatabaseConfig, opts ...database.Option) (database.Store, error) {
		return New(opts...), nil
	})
}

type bucket struct {
	mu      sync.RWMutex
	records []database.ImageRecord
}

// Store keeps everything in memory. The zero value is not usable; call New.
type Store struct {
	opts database.Options

	records sync.Map // id -> *database.ImageRecord
	buckets sync.Map // fingerprint.Fingerprint -> *bucket
	users   sync.Map // username -> *database.User
	count   atomic.Int64

	schemeMu sync.Mutex
	scheme   string
}

// New creates an empty store.
func New(opts ...database.Option) *Store {
	return &Store{opts: database.ApplyOptions(opts...)}
}

func (s *Store) bucketFor(fp fingerprint.Fingerprint) *bucket {
	if b, ok := s.buckets.Load(fp); ok {
		return b.(*bucket)
	}
	b, _ := s.buckets.LoadOrStore(fp, &bucket{})
	return b.(*bucket)
}

// Insert reserves a unique id and appends the record to its bucket.
func (s *Store) Insert(ctx context.Context, rec *database.ImageRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", database.Wrap("insert", err)
	}

	b := s.bucketFor(rec.Fingerprint)
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := cloneRecord(rec)
	for {
		stored.ID = s.opts.NewID()
		if _, loaded := s.records.LoadOrStore(stored.ID, stored); !loaded {
			break
		}
		s.opts.Logger.Debug("id collision, regenerating", "id", stored.ID)
	}

	b.records = append(b.records, *stored)
	s.count.Add(1)
	rec.ID = stored.ID
	return stored.ID, nil
}

// GetByID returns a copy of the record.
func (s *Store) GetByID(ctx context.Context, id string) (*database.ImageRecord, error) {
	v, ok := s.records.Load(id)
	if !ok {
		return nil, database.ErrNotFound
	}
	return cloneRecord(v.(*database.ImageRecord)), nil
}

// BucketFor returns a snapshot of one bucket.
func (s *Store) BucketFor(ctx context.Context, fp fingerprint.Fingerprint) (database.Bucket, error) {
	v, ok := s.buckets.Load(fp)
	if !ok {
		return database.Bucket{Fingerprint: fp}, nil
	}
	return snapshot(fp, v.(*bucket)), nil
}

// IterFingerprints walks the buckets. Each bucket is copied under its read
// lock so a concurrent append is either fully visible or not at all.
func (s *Store) IterFingerprints(ctx context.Context) iter.Seq2[database.Bucket, error] {
	return func(yield func(database.Bucket, error) bool) {
		s.buckets.Range(func(key, value any) bool {
			if err := ctx.Err(); err != nil {
				yield(database.Bucket{}, database.Wrap("iterate", err))
				return false
			}
			b := snapshot(key.(fingerprint.Fingerprint), value.(*bucket))
			if len(b.Records) == 0 {
				return true
			}
			return yield(b, nil)
		})
	}
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	return int(s.count.Load()), nil
}

// CreateUser stores a new account.
func (s *Store) CreateUser(ctx context.Context, u *database.User) error {
	stored := *u
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.PasswordHash = slices.Clone(u.PasswordHash)
	if _, loaded := s.users.LoadOrStore(u.Username, &stored); loaded {
		return database.ErrUserExists
	}
	return nil
}

// GetUser returns an account by name.
func (s *Store) GetUser(ctx context.Context, username string) (*database.User, error) {
	v, ok := s.users.Load(username)
	if !ok {
		return nil, database.ErrNotFound
	}
	u := *v.(*database.User)
	u.PasswordHash = slices.Clone(u.PasswordHash)
	return &u, nil
}

// CheckScheme pins the fingerprint scheme for the lifetime of the store.
func (s *Store) CheckScheme(ctx context.Context, scheme string) error {
	s.schemeMu.Lock()
	defer s.schemeMu.Unlock()
	if s.scheme == "" {
		s.scheme = scheme
		return nil
	}
	if s.scheme != scheme {
		return database.ErrSchemeMismatch
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func snapshot(fp fingerprint.Fingerprint, b *bucket) database.Bucket {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := database.Bucket{Fingerprint: fp, Records: make([]database.ImageRecord, len(b.records))}
	for i := range b.records {
		out.Records[i] = *cloneRecord(&b.records[i])
	}
	return out
}

func cloneRecord(r *database.ImageRecord) *database.ImageRecord {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c
}
