package database

import (
	"context"
	"iter"

	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// RecordReader provides read-only access to image records and fingerprint buckets
type RecordReader interface {
	// GetByID returns the record with the given id or ErrNotFound
	GetByID(ctx context.Context, id string) (*ImageRecord, error)
	// BucketFor returns the records sharing fp in insertion order; an absent
	// fingerprint yields an empty bucket, not an error
	BucketFor(ctx context.Context, fp fingerprint.Fingerprint) (Bucket, error)
	// IterFingerprints lazily yields every bucket. Each call starts a fresh
	// traversal, a bucket is always yielded whole, and a failure is yielded
	// once as (Bucket{}, err) before the sequence ends.
	IterFingerprints(ctx context.Context) iter.Seq2[Bucket, error]
	// Count returns the total number of records stored
	Count(ctx context.Context) (int, error)
}

// RecordWriter provides write access to image records
type RecordWriter interface {
	RecordReader

	// Insert assigns a fresh unique id to rec, stores it and appends it to the
	// bucket for rec.Fingerprint as one atomic step. Id collisions are resolved
	// internally by regenerating the id.
	Insert(ctx context.Context, rec *ImageRecord) (string, error)
}

// UserStore persists registered accounts
type UserStore interface {
	// CreateUser stores u or returns ErrUserExists
	CreateUser(ctx context.Context, u *User) error
	// GetUser returns the account or ErrNotFound
	GetUser(ctx context.Context, username string) (*User, error)
}

// Store is a complete backend.
type Store interface {
	RecordWriter
	UserStore

	// CheckScheme records scheme on first use and fails with ErrSchemeMismatch
	// if the store was created with a different one.
	CheckScheme(ctx context.Context, scheme string) error
	Close() error
}
