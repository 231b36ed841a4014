package database

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/kozaktomas/photo-finder/internal/config"
)

// Opener constructs a Store for a DATABASE_URL.
type Opener func(ctx context.Context, cfg *config.DatabaseConfig, opts ...Option) (Store, error)

var (
	backends   = make(map[string]Opener)
	backendsMu sync.RWMutex
)

// RegisterBackend makes a backend available under a URL scheme.
// Backend packages call it from init to avoid import cycles.
func RegisterBackend(scheme string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[scheme] = open
}

// Backends returns the registered URL schemes.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	schemes := make([]string, 0, len(backends))
	for s := range backends {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open selects a backend by the scheme of cfg.URL and opens it.
func Open(ctx context.Context, cfg *config.DatabaseConfig, opts ...Option) (Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	scheme, err := Scheme(cfg.URL)
	if err != nil {
		return nil, err
	}

	backendsMu.RLock()
	open, ok := backends[scheme]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported database scheme %q (available: %s)", scheme, strings.Join(Backends(), ", "))
	}

	store, err := open(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", scheme, err)
	}
	return store, nil
}

// Scheme returns the normalized scheme of a database URL. "postgresql" maps to
// "postgres", "rediss" to "redis" and "mariadb" to "mysql".
func Scheme(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "":
		return "", fmt.Errorf("database URL %q has no scheme", rawURL)
	case "postgresql":
		return "postgres", nil
	case "rediss":
		return "redis", nil
	case "mariadb":
		return "mysql", nil
	}
	return scheme, nil
}
