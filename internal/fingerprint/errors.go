package fingerprint

import "errors"

// Decode failures. Callers match them with errors.Is; the wrapped detail is for logs only.
var (
	// ErrUnsupportedFormat means the bytes are not an image container any registered decoder understands.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrFetchFailed means the remote image could not be downloaded (transport error, timeout or non-2xx status).
	ErrFetchFailed = errors.New("failed to fetch remote image")

	// ErrEncodingMismatch means the payload does not match its declared encoding.
	ErrEncodingMismatch = errors.New("payload does not match declared encoding")
)
