// Package mock provides a database.Store with error injection for testing.
package mock

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/database/memory"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// MockStore behaves like the in-memory store unless an error is injected.
type MockStore struct {
	*memory.Store

	// Error injection
	InsertError      error
	GetError         error
	BucketError      error
	IterError        error
	IterErrorAfter   int // buckets yielded successfully before IterError
	CountError       error
	CreateUserError  error
	GetUserError     error
	CheckSchemeError error

	inserts atomic.Int64
	iters   atomic.Int64
}

// NewMockStore creates an empty mock store.
func NewMockStore(opts ...database.Option) *MockStore {
	return &MockStore{Store: memory.New(opts...)}
}

// Inserts returns how many Insert calls reached the store, including failed ones.
func (m *MockStore) Inserts() int {
	return int(m.inserts.Load())
}

// Iterations returns how many traversals were started.
func (m *MockStore) Iterations() int {
	return int(m.iters.Load())
}

// Insert stores a record
func (m *MockStore) Insert(ctx context.Context, rec *database.ImageRecord) (string, error) {
	m.inserts.Add(1)
	if m.InsertError != nil {
		return "", m.InsertError
	}
	return m.Store.Insert(ctx, rec)
}

// GetByID retrieves a record
func (m *MockStore) GetByID(ctx context.Context, id string) (*database.ImageRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	return m.Store.GetByID(ctx, id)
}

// BucketFor retrieves a bucket
func (m *MockStore) BucketFor(ctx context.Context, fp fingerprint.Fingerprint) (database.Bucket, error) {
	if m.BucketError != nil {
		return database.Bucket{Fingerprint: fp}, m.BucketError
	}
	return m.Store.BucketFor(ctx, fp)
}

// IterFingerprints walks buckets, failing after IterErrorAfter buckets if IterError is set
func (m *MockStore) IterFingerprints(ctx context.Context) iter.Seq2[database.Bucket, error] {
	m.iters.Add(1)
	if m.IterError == nil {
		return m.Store.IterFingerprints(ctx)
	}
	return func(yield func(database.Bucket, error) bool) {
		n := 0
		for b, err := range m.Store.IterFingerprints(ctx) {
			if err != nil {
				yield(database.Bucket{}, err)
				return
			}
			if n >= m.IterErrorAfter {
				break
			}
			if !yield(b, nil) {
				return
			}
			n++
		}
		yield(database.Bucket{}, m.IterError)
	}
}

// Count returns the number of records
func (m *MockStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	return m.Store.Count(ctx)
}

// CreateUser stores an account
func (m *MockStore) CreateUser(ctx context.Context, u *database.User) error {
	if m.CreateUserError != nil {
		return m.CreateUserError
	}
	return m.Store.CreateUser(ctx, u)
}

// GetUser retrieves an account
func (m *MockStore) GetUser(ctx context.Context, username string) (*database.User, error) {
	if m.GetUserError != nil {
		return nil, m.GetUserError
	}
	return m.Store.GetUser(ctx, username)
}

// CheckScheme pins the scheme
func (m *MockStore) CheckScheme(ctx context.Context, scheme string) error {
	if m.CheckSchemeError != nil {
		return m.CheckSchemeError
	}
	return m.Store.CheckScheme(ctx, scheme)
}

var _ database.Store = (*MockStore)(nil)
