// Package blob copies uploaded image bytes to remote object storage.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-finder/internal/config"
)

// DefaultPrefix is prepended to every object key.
const DefaultPrefix = "images/"

// Store writes objects and reports where they can be fetched from.
type Store interface {
	// Put stores data under key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Close() error
}

// Open builds the store selected by cfg.Provider. It returns (nil, nil) when
// blob storage is not configured.
func Open(ctx context.Context, cfg *config.BlobConfig) (Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	switch strings.ToLower(cfg.Provider) {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "gcs", "gs":
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob provider %q", cfg.Provider)
	}
}

// NewKey returns a fresh object key for an image of the given format,
// e.g. "images/3f1c...e2.jpeg".
func NewKey(prefix, format string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	key := prefix + uuid.NewString()
	if format != "" {
		key += "." + format
	}
	return key
}

// objectURL joins a base URL and an object key.
func objectURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + key
}
