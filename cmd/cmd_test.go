package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/database/memory"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
	"github.com/kozaktomas/photo-finder/internal/images"
)

func TestIsImageFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.jpg", true},
		{"B.JPEG", true},
		{"c.png", true},
		{"d.webp", true},
		{"e.tif", true},
		{"f.heic", false},
		{"notes.txt", false},
		{"noext", false},
	}

	for _, tc := range tests {
		if got := isImageFile(tc.name); got != tc.want {
			t.Errorf("isImageFile(%q) = %v; want %v", tc.name, got, tc.want)
		}
	}
}

func TestCollectImageFiles(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(root, "a.png"),
		filepath.Join(root, "skip.txt"),
		filepath.Join(sub, "b.jpg"),
	} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	flat, err := collectImageFiles([]string{root}, false)
	if err != nil {
		t.Fatalf("collectImageFiles failed: %v", err)
	}
	if len(flat) != 1 || filepath.Base(flat[0]) != "a.png" {
		t.Errorf("non-recursive = %v; want [a.png]", flat)
	}

	deep, err := collectImageFiles([]string{root}, true)
	if err != nil {
		t.Fatalf("collectImageFiles failed: %v", err)
	}
	if len(deep) != 2 {
		t.Errorf("recursive = %v; want 2 files", deep)
	}

	if _, err := collectImageFiles([]string{filepath.Join(root, "a.png")}, false); err == nil {
		t.Error("expected an error for a file passed as folder")
	}
	if _, err := collectImageFiles([]string{filepath.Join(root, "missing")}, false); err == nil {
		t.Error("expected an error for a missing folder")
	}
}

type fakeUploader struct {
	mu     sync.Mutex
	titles []string
	fail   string
}

func (f *fakeUploader) Upload(_ context.Context, req images.UploadRequest) (*database.ImageRecord, error) {
	if req.Encoding != fingerprint.EncodingRawFile {
		return nil, errors.New("unexpected encoding")
	}
	if req.Title == f.fail {
		return nil, fingerprint.ErrUnsupportedFormat
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, req.Title)
	return &database.ImageRecord{ID: "id-" + req.Title, Owner: req.Owner}, nil
}

func TestImportFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"one.png", "two.png", "broken.png"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(dir, "vanished.png"))

	up := &fakeUploader{fail: "broken"}
	result := importFiles(context.Background(), up, "alice", paths, 2, false)

	if result.FilesFound != 4 {
		t.Errorf("FilesFound = %d; want 4", result.FilesFound)
	}
	if result.Imported != 2 {
		t.Errorf("Imported = %d; want 2", result.Imported)
	}
	if result.Failed != 2 || len(result.Failures) != 2 {
		t.Errorf("Failed = %d (%v); want 2", result.Failed, result.Failures)
	}

	slices.Sort(up.titles)
	if !slices.Equal(up.titles, []string{"one", "two"}) {
		t.Errorf("titles = %v; want [one two]", up.titles)
	}
}

func TestQueryPayload(t *testing.T) {
	enc, data, err := queryPayload("HTTPS://example.com/a.png")
	if err != nil {
		t.Fatalf("queryPayload failed: %v", err)
	}
	if enc != fingerprint.EncodingURL || string(data) != "HTTPS://example.com/a.png" {
		t.Errorf("url payload = %s %q", enc, data)
	}

	p := filepath.Join(t.TempDir(), "q.png")
	if err := os.WriteFile(p, []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	enc, data, err = queryPayload(p)
	if err != nil {
		t.Fatalf("queryPayload failed: %v", err)
	}
	if enc != fingerprint.EncodingRawFile || string(data) != "pixels" {
		t.Errorf("file payload = %s %q", enc, data)
	}

	if _, _, err := queryPayload(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("postgres://finder:secret@db:5432/finder")
	if got != "postgres://finder:xxxxx@db:5432/finder" {
		t.Errorf("redactURL = %s", got)
	}
	if got := redactURL("sqlite://./data/photo-finder.db"); got != "sqlite://./data/photo-finder.db" {
		t.Errorf("redactURL = %s", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 7*time.Minute, "2h7m"},
	}
	for _, tc := range tests {
		if got := formatDuration(tc.d); got != tc.want {
			t.Errorf("formatDuration(%s) = %s; want %s", tc.d, got, tc.want)
		}
	}
}

func TestResolveOwner(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	// "José" registered in NFC form.
	if err := store.CreateUser(ctx, &database.User{Username: "Jos\u00e9", PasswordHash: []byte("x")}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"Jos\u00e9", "Jos\u00e9", false},
		{"  Jos\u00e9 ", "Jos\u00e9", false},
		{"Jose\u0301", "Jos\u00e9", false},
		{"nobody", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := resolveOwner(ctx, store, tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("resolveOwner(%q) error = %v; wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("resolveOwner(%q) = %q; want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestStoreSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	for i, want := range []string{"Store holds 0 images", "Store holds 1 image", "Store holds 2 images"} {
		if i > 0 {
			rec := &database.ImageRecord{Fingerprint: fingerprint.Fingerprint(i), Owner: "alice", Tags: []string{}}
			if _, err := store.Insert(ctx, rec); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
		}
		got, err := storeSummary(ctx, store)
		if err != nil {
			t.Fatalf("storeSummary failed: %v", err)
		}
		if got != want {
			t.Errorf("storeSummary = %q; want %q", got, want)
		}
	}
}
