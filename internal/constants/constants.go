// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload limits
const (
	// MaxRequestBodySize caps the whole multipart body of upload and search requests (15 MiB)
	MaxRequestBodySize = 15 << 20

	// MaxFieldSize caps any single multipart field (10 MiB)
	MaxFieldSize = 10 << 20

	// MaxTextFieldSize caps title and description fields (30 KiB)
	MaxTextFieldSize = 30 << 10
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for bulk import
	WorkerPoolSize = 8

	// ShutdownTimeoutSeconds bounds graceful server shutdown
	ShutdownTimeoutSeconds = 30
)
