package fingerprint

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	// DefaultFetchTimeout bounds the single download attempt for URL payloads.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxImageBytes caps the size of a downloaded image body.
	DefaultMaxImageBytes = 10 << 20

	// DefaultMaxPixels caps width*height as declared by the container header.
	DefaultMaxPixels = 40_000_000
)

var tracer = otel.Tracer("github.com/kozaktomas/photo-finder/internal/fingerprint")

// Encoding tells the codec how to interpret an image payload.
type Encoding int

const (
	// EncodingBase64 is standard base64 text of an image container.
	EncodingBase64 Encoding = iota + 1
	// EncodingURL is a UTF-8 http(s) URL pointing at an image.
	EncodingURL
	// EncodingRawFile is the image container itself.
	EncodingRawFile
)

func (e Encoding) String() string {
	switch e {
	case EncodingBase64:
		return "base64"
	case EncodingURL:
		return "url"
	case EncodingRawFile:
		return "file"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding maps the form values "base64", "url" and "file" (any case) to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base64":
		return EncodingBase64, nil
	case "url":
		return EncodingURL, nil
	case "file":
		return EncodingRawFile, nil
	default:
		return 0, fmt.Errorf("%w: unknown encoding %q", ErrEncodingMismatch, s)
	}
}

// Decoded is an image decoded from a payload together with its container bytes.
type Decoded struct {
	Image  image.Image
	Format string // decoder name, e.g. "jpeg", "png"
	Data   []byte // the container bytes after base64 decoding or download
}

// Width returns the decoded pixel width.
func (d *Decoded) Width() int { return d.Image.Bounds().Dx() }

// Height returns the decoded pixel height.
func (d *Decoded) Height() int { return d.Image.Bounds().Dy() }

// MediaType returns the MIME type implied by the detected container format.
func (d *Decoded) MediaType() string {
	if d.Format == "" {
		return "application/octet-stream"
	}
	return "image/" + d.Format
}

// Codec turns payloads into decoded images and decoded images into fingerprints.
// It is safe for concurrent use.
type Codec struct {
	client    *http.Client
	algorithm Algorithm
	maxBytes  int64
	maxPixels int64
}

// Option configures a Codec.
type Option func(*Codec)

// WithAlgorithm selects the fingerprint algorithm.
func WithAlgorithm(alg Algorithm) Option {
	return func(c *Codec) {
		c.algorithm = alg
	}
}

// WithFetchTimeout overrides the download timeout for URL payloads.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Codec) {
		c.client.Timeout = timeout
	}
}

// WithMaxImageBytes overrides the maximum accepted download size.
func WithMaxImageBytes(n int64) Option {
	return func(c *Codec) {
		c.maxBytes = n
	}
}

// WithMaxPixels overrides the largest accepted width*height. Images are
// rejected from their header before any pixel buffer is allocated.
func WithMaxPixels(n int64) Option {
	return func(c *Codec) {
		c.maxPixels = n
	}
}

// NewCodec creates a codec using dHash and a 10 second fetch timeout unless overridden.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		client:    &http.Client{Timeout: DefaultFetchTimeout},
		algorithm: DHash,
		maxBytes:  DefaultMaxImageBytes,
		maxPixels: DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Algorithm returns the fingerprint algorithm in use.
func (c *Codec) Algorithm() Algorithm {
	return c.algorithm
}

// Decode interprets payload according to enc and decodes the resulting image.
// URL payloads are fetched exactly once; no retries are attempted.
func (c *Codec) Decode(ctx context.Context, enc Encoding, payload []byte) (*Decoded, error) {
	ctx, span := tracer.Start(ctx, "fingerprint.Decode")
	defer span.End()
	span.SetAttributes(attribute.String("encoding", enc.String()), attribute.Int("payload_bytes", len(payload)))

	decoded, err := c.decode(ctx, enc, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("format", decoded.Format))
	return decoded, nil
}

func (c *Codec) decode(ctx context.Context, enc Encoding, payload []byte) (*Decoded, error) {
	var data []byte
	switch enc {
	case EncodingBase64:
		raw, err := decodeBase64(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	case EncodingURL:
		raw, err := c.fetch(ctx, payload)
		if err != nil {
			return nil, err
		}
		data = raw
	case EncodingRawFile:
		data = payload
	default:
		return nil, fmt.Errorf("%w: %s", ErrEncodingMismatch, enc)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}

	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 || int64(hdr.Width)*int64(hdr.Height) > c.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedFormat, hdr.Width, hdr.Height, c.maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	return &Decoded{Image: img, Format: format, Data: data}, nil
}

// Fingerprint reduces a decoded image using the codec's algorithm.
func (c *Codec) Fingerprint(d *Decoded) Fingerprint {
	return Compute(d.Image, c.algorithm)
}

// decodeBase64 accepts standard padded base64, optionally wrapped in a data URI.
func decodeBase64(payload []byte) ([]byte, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: base64 payload is not valid UTF-8", ErrEncodingMismatch)
	}
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "data:") {
		if i := strings.Index(text, ";base64,"); i >= 0 {
			text = text[i+len(";base64,"):]
		}
	}
	text = strings.Join(strings.Fields(text), "")

	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingMismatch, err)
	}
	return data, nil
}

// fetch downloads the image referenced by a URL payload.
func (c *Codec) fetch(ctx context.Context, payload []byte) ([]byte, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: url is not valid UTF-8", ErrEncodingMismatch)
	}
	raw := strings.TrimSpace(string(payload))
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an http(s) url", ErrEncodingMismatch, raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrFetchFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrFetchFailed, c.maxBytes)
	}

	return body, nil
}
