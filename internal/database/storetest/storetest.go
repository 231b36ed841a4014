// Package storetest is a conformance suite every database.Store backend runs.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// Factory returns an empty store. Cleanup is the factory's job (t.Cleanup).
type Factory func(t *testing.T, opts ...database.Option) database.Store

// Run executes the whole suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newStore) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore) })
	t.Run("BucketForAbsent", func(t *testing.T) { testBucketForAbsent(t, newStore) })
	t.Run("BucketInsertionOrder", func(t *testing.T) { testBucketInsertionOrder(t, newStore) })
	t.Run("ConcurrentSameFingerprint", func(t *testing.T) { testConcurrentSameFingerprint(t, newStore) })
	t.Run("ConcurrentDifferentFingerprints", func(t *testing.T) { testConcurrentDifferentFingerprints(t, newStore) })
	t.Run("IDCollisionRegenerates", func(t *testing.T) { testIDCollision(t, newStore) })
	t.Run("IterEmpty", func(t *testing.T) { testIterEmpty(t, newStore) })
	t.Run("IterRestartable", func(t *testing.T) { testIterRestartable(t, newStore) })
	t.Run("IterEarlyStop", func(t *testing.T) { testIterEarlyStop(t, newStore) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore) })
	t.Run("CheckScheme", func(t *testing.T) { testCheckScheme(t, newStore) })
}

// NewRecord builds a record ready for Insert.
func NewRecord(fp fingerprint.Fingerprint, owner string) *database.ImageRecord {
	return &database.ImageRecord{
		Fingerprint: fp,
		Owner:       owner,
		Title:       "title " + owner,
		Description: "description",
		Tags:        []string{},
		MediaType:   "image/png",
		Width:       64,
		Height:      48,
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix(),
	}
}

// SequenceIDs returns a goroutine-safe generator that hands out ids in order
// and falls back to database.NewID once they run out.
func SequenceIDs(ids ...string) database.IDGenerator {
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return database.NewID()
		}
		id := ids[0]
		ids = ids[1:]
		return id
	}
}

// Collect drains IterFingerprints into a map keyed by fingerprint.
func Collect(t *testing.T, store database.RecordReader) map[fingerprint.Fingerprint][]string {
	t.Helper()
	out := make(map[fingerprint.Fingerprint][]string)
	for b, err := range store.IterFingerprints(context.Background()) {
		require.NoError(t, err)
		_, dup := out[b.Fingerprint]
		require.False(t, dup, "fingerprint %s yielded twice", b.Fingerprint)
		for _, r := range b.Records {
			out[b.Fingerprint] = append(out[b.Fingerprint], r.ID)
		}
	}
	return out
}

func testInsertAndGet(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)

	rec := NewRecord(0x0123456789abcdef, "alice")
	rec.ImageURL = "https://blobs.example/images/a.png"
	id, err := store.Insert(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, rec.ID)

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, rec.Fingerprint, got.Fingerprint)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, rec.Description, got.Description)
	assert.Equal(t, rec.ImageURL, got.ImageURL)
	assert.Equal(t, "image/png", got.MediaType)
	assert.Equal(t, 64, got.Width)
	assert.Equal(t, 48, got.Height)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.NotNil(t, got.Tags)
	assert.Empty(t, got.Tags)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testGetMissing(t *testing.T, newStore Factory) {
	store := newStore(t)

	_, err := store.GetByID(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func testBucketForAbsent(t *testing.T, newStore Factory) {
	store := newStore(t)

	b, err := store.BucketFor(context.Background(), 0xfeed)
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Fingerprint(0xfeed), b.Fingerprint)
	assert.Empty(t, b.Records)
}

func testBucketInsertionOrder(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)

	const fp = fingerprint.Fingerprint(0xabc)
	var want []string
	for i := range 3 {
		id, err := store.Insert(ctx, NewRecord(fp, fmt.Sprintf("user%d", i)))
		require.NoError(t, err)
		want = append(want, id)
	}
	_, err := store.Insert(ctx, NewRecord(0xdef, "other"))
	require.NoError(t, err)

	b, err := store.BucketFor(ctx, fp)
	require.NoError(t, err)
	var got []string
	for _, r := range b.Records {
		got = append(got, r.ID)
		assert.Equal(t, fp, r.Fingerprint)
	}
	assert.Equal(t, want, got)
}

func testConcurrentSameFingerprint(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)

	const n = 32
	const fp = fingerprint.Fingerprint(0)

	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = store.Insert(ctx, NewRecord(fp, fmt.Sprintf("user%d", i)))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	b, err := store.BucketFor(ctx, fp)
	require.NoError(t, err)
	require.Len(t, b.Records, n)

	var got []string
	for _, r := range b.Records {
		got = append(got, r.ID)
	}
	sort.Strings(got)
	sort.Strings(ids)
	assert.Equal(t, ids, got)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func testConcurrentDifferentFingerprints(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)

	const n = 16
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Insert(ctx, NewRecord(fingerprint.Fingerprint(1)<<i, "owner"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all := Collect(t, store)
	assert.Len(t, all, n)
	for fp, ids := range all {
		assert.Len(t, ids, 1, "bucket %s", fp)
	}
}

func testIDCollision(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, database.WithIDGenerator(SequenceIDs("AAAAAAAAAAAA", "AAAAAAAAAAAA", "AAAAAAAAAAAA", "BBBBBBBBBBBB")))

	first, err := store.Insert(ctx, NewRecord(1, "first"))
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAAAAAA", first)

	second, err := store.Insert(ctx, NewRecord(1, "second"))
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBBBB", second)

	got, err := store.GetByID(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Owner)

	b, err := store.BucketFor(ctx, 1)
	require.NoError(t, err)
	require.Len(t, b.Records, 2)
	assert.Equal(t, first, b.Records[0].ID)
	assert.Equal(t, second, b.Records[1].ID)
}

func testIterEmpty(t *testing.T, newStore Factory) {
	store := newStore(t)

	for b, err := range store.IterFingerprints(context.Background()) {
		t.Fatalf("empty store yielded %v, %v", b, err)
	}
}

func testIterRestartable(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)

	for i, fp := range []fingerprint.Fingerprint{1, 2, 3, 3} {
		_, err := store.Insert(ctx, NewRecord(fp, fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
	}

	first := Collect(t, store)
	second := Collect(t, store)
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
	assert.Len(t, first[3], 2)
}

func testIterEarlyStop(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)

	for i := range 5 {
		_, err := store.Insert(ctx, NewRecord(fingerprint.Fingerprint(i+10), "u"))
		require.NoError(t, err)
	}

	seen := 0
	for _, err := range store.IterFingerprints(ctx) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)

	// The store stays usable after an abandoned traversal.
	_, err := store.Insert(ctx, NewRecord(99, "after"))
	require.NoError(t, err)
	assert.Len(t, Collect(t, store), 6)
}

func testUsers(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)

	u := &database.User{Username: "alice", PasswordHash: []byte{1, 2, 3, 4}}
	require.NoError(t, store.CreateUser(ctx, u))

	err := store.CreateUser(ctx, &database.User{Username: "alice", PasswordHash: []byte{9}})
	assert.ErrorIs(t, err, database.ErrUserExists)

	got, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.PasswordHash)

	_, err = store.GetUser(ctx, "bob")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func testCheckScheme(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.CheckScheme(ctx, fingerprint.DHash.Scheme()))
	require.NoError(t, store.CheckScheme(ctx, fingerprint.DHash.Scheme()))
	assert.ErrorIs(t, store.CheckScheme(ctx, fingerprint.PHash.Scheme()), database.ErrSchemeMismatch)
}
