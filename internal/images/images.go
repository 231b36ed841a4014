// Package images turns uploaded payloads into stored, searchable records.
package images

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kozaktomas/photo-finder/internal/blob"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

var tracer = otel.Tracer("github.com/kozaktomas/photo-finder/internal/images")

// UploadRequest is one image to store.
type UploadRequest struct {
	Data        []byte
	Encoding    fingerprint.Encoding
	Owner       string
	Title       string
	Description string
	MediaType   string // declared type; the decoded format is used when empty
}

// Service assembles records from uploads.
type Service struct {
	store      database.RecordWriter
	codec      *fingerprint.Codec
	blobs      blob.Store
	blobPrefix string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBlobStore copies uploaded bytes to blobs under keys starting with prefix.
func WithBlobStore(blobs blob.Store, prefix string) Option {
	return func(s *Service) {
		s.blobs = blobs
		s.blobPrefix = prefix
	}
}

// WithLogger sets the logger used for soft failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an upload service. Without WithBlobStore, records are
// stored with an empty image URL.
func NewService(store database.RecordWriter, codec *fingerprint.Codec, opts ...Option) *Service {
	s := &Service{
		store:  store,
		codec:  codec,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload decodes and fingerprints the payload, copies it to blob storage if
// configured, and inserts the record. A blob failure is logged and leaves
// ImageURL empty; decode and store failures abort the upload.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*database.ImageRecord, error) {
	ctx, span := tracer.Start(ctx, "images.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("owner", req.Owner), attribute.String("encoding", req.Encoding.String()))

	decoded, err := s.codec.Decode(ctx, req.Encoding, req.Data)
	if err != nil {
		return nil, s.fail(span, err)
	}

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = decoded.MediaType()
	}

	rec := &database.ImageRecord{
		Fingerprint: s.codec.Fingerprint(decoded),
		Owner:       req.Owner,
		Title:       req.Title,
		Description: req.Description,
		Tags:        []string{},
		ImageURL:    s.putBlob(ctx, decoded, mediaType),
		MediaType:   mediaType,
		Width:       decoded.Width(),
		Height:      decoded.Height(),
		CreatedAt:   s.now().UTC().Unix(),
	}

	if _, err := s.store.Insert(ctx, rec); err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(attribute.String("id", rec.ID), attribute.String("fingerprint", rec.Fingerprint.String()))
	s.logger.InfoContext(ctx, "image stored", "id", rec.ID, "owner", rec.Owner, "fingerprint", rec.Fingerprint.String())
	return rec, nil
}

// Get returns a stored record by id.
func (s *Service) Get(ctx context.Context, id string) (*database.ImageRecord, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) putBlob(ctx context.Context, decoded *fingerprint.Decoded, mediaType string) string {
	if s.blobs == nil {
		return ""
	}
	key := blob.NewKey(s.blobPrefix, decoded.Format)
	url, err := s.blobs.Put(ctx, key, decoded.Data, mediaType)
	if err != nil {
		s.logger.WarnContext(ctx, "blob upload failed, storing record without image url", "key", key, "error", err)
		return ""
	}
	return url
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
