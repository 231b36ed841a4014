package database

import (
	"time"

	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// ImageRecord is one stored image. Records are immutable once inserted.
// Stores always return a non-nil Tags slice so it serializes as [].
type ImageRecord struct {
	ID          string                  `json:"id"`
	Fingerprint fingerprint.Fingerprint `json:"-"`
	Owner       string                  `json:"owner"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Tags        []string                `json:"tags"`
	ImageURL    string                  `json:"image_url"` // empty when no blob store is configured
	MediaType   string                  `json:"media_type"`
	Width       int                     `json:"width"`
	Height      int                     `json:"height"`
	CreatedAt   int64                   `json:"created_at"` // unix seconds, UTC
}

// Bucket is every record sharing one exact fingerprint, in insertion order.
type Bucket struct {
	Fingerprint fingerprint.Fingerprint
	Records     []ImageRecord
}

// User is a registered account.
type User struct {
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}
