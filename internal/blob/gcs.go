package blob

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/kozaktomas/photo-finder/internal/config"
)

// GCSStore puts objects into a Google Cloud Storage bucket.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	publicURL string
}

// NewGCSStore creates a client using application default credentials.
func NewGCSStore(ctx context.Context, cfg *config.BlobConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + cfg.Bucket
	}

	return &GCSStore{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

// Put writes data with a single object writer.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", key, err)
	}

	return objectURL(s.publicURL, key), nil
}

// Close releases the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
