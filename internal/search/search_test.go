package search_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/database/memory"
	"github.com/kozaktomas/photo-finder/internal/database/mock"
	"github.com/kozaktomas/photo-finder/internal/database/storetest"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
	"github.com/kozaktomas/photo-finder/internal/search"
)

func newEngine(store database.RecordReader, threshold uint) *search.Engine {
	return search.NewEngine(store, fingerprint.NewCodec(), config.SearchConfig{HammingDistance: threshold}, nil)
}

func insert(t *testing.T, store database.RecordWriter, fp fingerprint.Fingerprint, owner string) string {
	t.Helper()
	id, err := store.Insert(context.Background(), storetest.NewRecord(fp, owner))
	require.NoError(t, err)
	return id
}

func ids(results []search.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}

func TestSearchExactMatch(t *testing.T) {
	store := memory.New()
	id := insert(t, store, 0xdeadbeefcafef00d, "alice")
	insert(t, store, 0x0123456789abcdef, "bob")

	results, err := newEngine(store, 0).Search(context.Background(), 0xdeadbeefcafef00d, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, 0, results[0].Distance)
	assert.Equal(t, "alice", results[0].Owner)
}

func TestSearchNearDuplicate(t *testing.T) {
	store := memory.New()
	id := insert(t, store, 0x1F, "alice") // five bits away from zero
	engine := newEngine(store, 0)
	ctx := context.Background()

	results, err := engine.Search(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids(results))
	assert.Equal(t, 5, results[0].Distance)

	results, err = engine.Search(ctx, 0, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchReturnsWholeBucket(t *testing.T) {
	store := memory.New()
	first := insert(t, store, 0xabc, "alice")
	second := insert(t, store, 0xabc, "bob")

	results, err := newEngine(store, 0).Search(context.Background(), 0xabc, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, second}, ids(results))
}

func TestSearchSortsByDistance(t *testing.T) {
	store := memory.New()
	far := insert(t, store, 0xFF, "far")
	near := insert(t, store, 0x1, "near")
	exact := insert(t, store, 0x0, "exact")

	results, err := newEngine(store, 0).Search(context.Background(), 0, 64)
	require.NoError(t, err)
	assert.Equal(t, []string{exact, near, far}, ids(results))
}

func TestSearchEmptyStore(t *testing.T) {
	results, err := newEngine(memory.New(), 0).Search(context.Background(), 0x42, 64)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearchClampsThreshold(t *testing.T) {
	store := memory.New()
	insert(t, store, fingerprint.Fingerprint(^uint64(0)), "opposite")
	insert(t, store, 0x5555, "other")

	results, err := newEngine(store, 0).Search(context.Background(), 0, 1000)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchPropagatesStoreErrors(t *testing.T) {
	store := mock.NewMockStore()
	insert(t, store, 0x1, "alice")
	insert(t, store, 0x2, "bob")
	store.IterError = errors.New("disk on fire")
	store.IterErrorAfter = 1

	results, err := newEngine(store, 0).Search(context.Background(), 0, 64)
	assert.Nil(t, results)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrStore)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestSearchImageUsesDefaultThreshold(t *testing.T) {
	store := memory.New()
	near := insert(t, store, 0x1, "near")
	insert(t, store, 0x1F, "far")
	engine := newEngine(store, 2)
	ctx := context.Background()

	// A solid image has an all-zero difference hash.
	data := solidPNG(t)

	results, err := engine.SearchImage(ctx, fingerprint.EncodingRawFile, data, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{near}, ids(results))

	threshold := uint(5)
	results, err = engine.SearchImage(ctx, fingerprint.EncodingRawFile, data, &threshold)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchImageCodecErrorSkipsStore(t *testing.T) {
	store := mock.NewMockStore()
	engine := newEngine(store, 0)

	_, err := engine.SearchImage(context.Background(), fingerprint.EncodingRawFile, []byte("not an image"), nil)
	assert.ErrorIs(t, err, fingerprint.ErrUnsupportedFormat)

	_, err = engine.SearchImage(context.Background(), fingerprint.EncodingBase64, []byte("%%%"), nil)
	assert.ErrorIs(t, err, fingerprint.ErrEncodingMismatch)

	assert.Zero(t, store.Iterations())
}

func TestDefaultThreshold(t *testing.T) {
	assert.Equal(t, uint(0), newEngine(memory.New(), 0).DefaultThreshold())
	assert.Equal(t, uint(config.DefaultHammingDistance), newEngine(memory.New(), config.DefaultHammingDistance).DefaultThreshold())
	assert.Equal(t, uint(7), newEngine(memory.New(), 7).DefaultThreshold())
	assert.Equal(t, uint(64), newEngine(memory.New(), 500).DefaultThreshold())
}

func TestConfiguredZeroThresholdIsExactMatch(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HAMMING_DISTANCE", "0")
	t.Setenv("FINGERPRINT_ALGORITHM", "")
	t.Setenv("BLOB_PROVIDER", "")
	t.Setenv("BLOB_BUCKET", "")
	t.Setenv("AUTH_SALT", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, uint(0), cfg.Search.HammingDistance)

	store := memory.New()
	insert(t, store, 0, "alice")
	insert(t, store, 0b1, "bob")

	engine := search.NewEngine(store, fingerprint.NewCodec(), cfg.Search, nil)
	assert.Equal(t, uint(0), engine.DefaultThreshold())

	results, err := engine.SearchImage(context.Background(), fingerprint.EncodingRawFile, solidPNG(t), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].Owner)
}

func solidPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := range 32 {
		for y := range 32 {
			img.Set(x, y, color.RGBA{90, 120, 200, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
