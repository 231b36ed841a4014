package database

import (
	"encoding/json"
	"fmt"

	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// envelope is the storage form of an ImageRecord. Unlike the wire form it
// keeps the fingerprint.
type envelope struct {
	ID          string   `json:"id"`
	Fingerprint string   `json:"fingerprint"`
	Owner       string   `json:"owner"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	ImageURL    string   `json:"image_url"`
	MediaType   string   `json:"media_type"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	CreatedAt   int64    `json:"created_at"`
}

// EncodeRecord serializes a record for backends that store JSON documents.
func EncodeRecord(r *ImageRecord) ([]byte, error) {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(envelope{
		ID:          r.ID,
		Fingerprint: r.Fingerprint.String(),
		Owner:       r.Owner,
		Title:       r.Title,
		Description: r.Description,
		Tags:        tags,
		ImageURL:    r.ImageURL,
		MediaType:   r.MediaType,
		Width:       r.Width,
		Height:      r.Height,
		CreatedAt:   r.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", r.ID, err)
	}
	return data, nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (*ImageRecord, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	fp, err := fingerprint.Parse(e.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", e.ID, err)
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return &ImageRecord{
		ID:          e.ID,
		Fingerprint: fp,
		Owner:       e.Owner,
		Title:       e.Title,
		Description: e.Description,
		Tags:        e.Tags,
		ImageURL:    e.ImageURL,
		MediaType:   e.MediaType,
		Width:       e.Width,
		Height:      e.Height,
		CreatedAt:   e.CreatedAt,
	}, nil
}
