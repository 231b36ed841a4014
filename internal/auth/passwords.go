// Package auth registers accounts, verifies passwords and issues bearer tokens.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultIterations is the PBKDF2 work factor.
	DefaultIterations = 100_000

	// KeyLen is the length of a derived password hash.
	KeyLen = sha256.Size
)

// NormalizeUsername trims surrounding whitespace and applies Unicode NFC so
// that visually identical names map to one account.
func NormalizeUsername(username string) string {
	return norm.NFC.String(strings.TrimSpace(username))
}

// Hasher derives password hashes with PBKDF2-HMAC-SHA256. The salt for each
// account is the configured salt followed by the username.
type Hasher struct {
	salt       []byte
	iterations int
}

// NewHasher creates a hasher. A non-positive iteration count means DefaultIterations.
func NewHasher(salt []byte, iterations int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Hasher{salt: salt, iterations: iterations}
}

// Hash derives the stored credential for a username and password.
func (h *Hasher) Hash(username, password string) []byte {
	return pbkdf2.Key([]byte(password), h.saltFor(username), h.iterations, KeyLen, sha256.New)
}

// Verify reports whether password matches hash in constant time.
func (h *Hasher) Verify(username, password string, hash []byte) bool {
	return subtle.ConstantTimeCompare(h.Hash(username, password), hash) == 1
}

func (h *Hasher) saltFor(username string) []byte {
	salt := make([]byte, 0, len(h.salt)+len(username))
	salt = append(salt, h.salt...)
	return append(salt, username...)
}
