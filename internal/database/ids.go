package database

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
)

// IDLength is the length of generated record ids.
const IDLength = 12

// IDGenerator returns a candidate record id. Stores call it again on collision.
type IDGenerator func() string

// NewID returns 12 URL-safe characters drawn from 9 random bytes.
func NewID() string {
	var b [9]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// Options holds settings shared by every backend.
type Options struct {
	NewID  IDGenerator
	Logger *slog.Logger
}

// Option configures a backend.
type Option func(*Options)

// WithIDGenerator replaces the random id source.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *Options) {
		o.NewID = gen
	}
}

// WithLogger sets the logger used for id collisions and similar events.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// ApplyOptions resolves opts over the defaults.
func ApplyOptions(opts ...Option) Options {
	o := Options{NewID: NewID, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
