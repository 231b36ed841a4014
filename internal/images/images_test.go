package images_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/database/memory"
	"github.com/kozaktomas/photo-finder/internal/database/mock"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
	"github.com/kozaktomas/photo-finder/internal/images"
	"github.com/kozaktomas/photo-finder/internal/search"
)

// fakeBlobs records puts and optionally fails them.
type fakeBlobs struct {
	mu   sync.Mutex
	keys []string
	ct   []string
	err  error
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	f.ct = append(f.ct, contentType)
	return "https://blobs.example/" + key, nil
}

func (f *fakeBlobs) Close() error { return nil }

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{200, 40, 40, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
}

func TestUploadStoresRecord(t *testing.T) {
	store := memory.New()
	blobs := &fakeBlobs{}
	svc := images.NewService(store, fingerprint.NewCodec(),
		images.WithBlobStore(blobs, "images/"),
		images.WithClock(fixedClock),
	)
	ctx := context.Background()

	rec, err := svc.Upload(ctx, images.UploadRequest{
		Data:     solidPNG(t, 40, 30),
		Encoding: fingerprint.EncodingRawFile,
		Owner:    "alice",
		Title:    "red",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, "red", rec.Title)
	assert.Empty(t, rec.Description)
	assert.NotNil(t, rec.Tags)
	assert.Empty(t, rec.Tags)
	assert.Equal(t, 40, rec.Width)
	assert.Equal(t, 30, rec.Height)
	assert.Equal(t, "image/png", rec.MediaType)
	assert.Equal(t, int64(1709290800), rec.CreatedAt)
	assert.Equal(t, fingerprint.Fingerprint(0), rec.Fingerprint)

	require.Len(t, blobs.keys, 1)
	assert.True(t, strings.HasPrefix(blobs.keys[0], "images/"))
	assert.True(t, strings.HasSuffix(blobs.keys[0], ".png"))
	assert.Equal(t, "https://blobs.example/"+blobs.keys[0], rec.ImageURL)
	assert.Equal(t, []string{"image/png"}, blobs.ct)

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ImageURL, got.ImageURL)
}

func TestUploadKeepsDeclaredMediaType(t *testing.T) {
	svc := images.NewService(memory.New(), fingerprint.NewCodec())

	rec, err := svc.Upload(context.Background(), images.UploadRequest{
		Data:      []byte(base64.StdEncoding.EncodeToString(solidPNG(t, 8, 8))),
		Encoding:  fingerprint.EncodingBase64,
		Owner:     "bob",
		MediaType: "image/x-custom",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/x-custom", rec.MediaType)
	assert.Empty(t, rec.ImageURL)
}

func TestUploadBlobFailureIsSoft(t *testing.T) {
	store := memory.New()
	svc := images.NewService(store, fingerprint.NewCodec(),
		images.WithBlobStore(&fakeBlobs{err: errors.New("bucket gone")}, ""),
	)
	ctx := context.Background()

	rec, err := svc.Upload(ctx, images.UploadRequest{Data: solidPNG(t, 10, 10), Encoding: fingerprint.EncodingRawFile, Owner: "alice"})
	require.NoError(t, err)
	assert.Empty(t, rec.ImageURL)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUploadUnsupportedFormatStoresNothing(t *testing.T) {
	store := mock.NewMockStore()
	blobs := &fakeBlobs{}
	svc := images.NewService(store, fingerprint.NewCodec(), images.WithBlobStore(blobs, ""))

	_, err := svc.Upload(context.Background(), images.UploadRequest{Data: []byte("GIF89a nope"), Encoding: fingerprint.EncodingRawFile})
	assert.ErrorIs(t, err, fingerprint.ErrUnsupportedFormat)
	assert.Zero(t, store.Inserts())
	assert.Empty(t, blobs.keys)
}

func TestUploadURLTimeoutStoresNothing(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	store := mock.NewMockStore()
	svc := images.NewService(store, fingerprint.NewCodec(fingerprint.WithFetchTimeout(50*time.Millisecond)))

	_, err := svc.Upload(context.Background(), images.UploadRequest{Data: []byte(srv.URL + "/slow.jpg"), Encoding: fingerprint.EncodingURL})
	assert.ErrorIs(t, err, fingerprint.ErrFetchFailed)
	assert.Zero(t, store.Inserts())
}

func TestUploadStoreFailure(t *testing.T) {
	store := mock.NewMockStore()
	store.InsertError = &database.StoreError{Op: "insert", Err: errors.New("disk full")}
	svc := images.NewService(store, fingerprint.NewCodec())

	_, err := svc.Upload(context.Background(), images.UploadRequest{Data: solidPNG(t, 4, 4), Encoding: fingerprint.EncodingRawFile})
	assert.ErrorIs(t, err, database.ErrStore)
}

func TestGetMissing(t *testing.T) {
	svc := images.NewService(memory.New(), fingerprint.NewCodec())
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestUploadThenExactSearch(t *testing.T) {
	store := memory.New()
	codec := fingerprint.NewCodec()
	svc := images.NewService(store, codec)
	engine := search.NewEngine(store, codec, config.SearchConfig{}, nil)
	ctx := context.Background()

	data := solidPNG(t, 64, 64)
	rec, err := svc.Upload(ctx, images.UploadRequest{Data: data, Encoding: fingerprint.EncodingRawFile, Owner: "alice"})
	require.NoError(t, err)

	zero := uint(0)
	results, err := engine.SearchImage(ctx, fingerprint.EncodingBase64, []byte(base64.StdEncoding.EncodeToString(data)), &zero)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].ID)
	assert.Equal(t, 0, results[0].Distance)
}

func TestConcurrentUploadsOfSameImage(t *testing.T) {
	store := memory.New()
	svc := images.NewService(store, fingerprint.NewCodec())
	data := solidPNG(t, 16, 16)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Go(func() {
			_, err := svc.Upload(ctx, images.UploadRequest{Data: data, Encoding: fingerprint.EncodingRawFile, Owner: "alice"})
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bucket, err := store.BucketFor(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, bucket.Records, n)
}
