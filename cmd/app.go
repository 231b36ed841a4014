package cmd

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/kozaktomas/photo-finder/internal/auth"
	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
	_ "github.com/kozaktomas/photo-finder/internal/database/mariadb"  // mysql:// and mariadb:// backend
	_ "github.com/kozaktomas/photo-finder/internal/database/memory"   // memory:// backend
	_ "github.com/kozaktomas/photo-finder/internal/database/postgres" // postgres:// backend
	_ "github.com/kozaktomas/photo-finder/internal/database/redis"    // redis:// backend
	_ "github.com/kozaktomas/photo-finder/internal/database/sqlite"   // sqlite:// backend
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// newCodec builds the fingerprint codec from the fingerprint config section.
func newCodec(cfg *config.Config) (*fingerprint.Codec, error) {
	alg, err := fingerprint.ParseAlgorithm(cfg.Fingerprint.Algorithm)
	if err != nil {
		return nil, err
	}
	opts := []fingerprint.Option{fingerprint.WithAlgorithm(alg)}
	if cfg.Fingerprint.FetchTimeout > 0 {
		opts = append(opts, fingerprint.WithFetchTimeout(cfg.Fingerprint.FetchTimeout))
	}
	if cfg.Fingerprint.MaxImageBytes > 0 {
		opts = append(opts, fingerprint.WithMaxImageBytes(cfg.Fingerprint.MaxImageBytes))
	}
	if cfg.Fingerprint.MaxPixels > 0 {
		opts = append(opts, fingerprint.WithMaxPixels(cfg.Fingerprint.MaxPixels))
	}
	return fingerprint.NewCodec(opts...), nil
}

// storeSummary describes how many images the store holds.
func storeSummary(ctx context.Context, store database.RecordReader) (string, error) {
	n, err := store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("counting images: %w", err)
	}
	if n == 1 {
		return "Store holds 1 image", nil
	}
	return fmt.Sprintf("Store holds %d images", n), nil
}

// openStore opens the configured backend and pins it to the codec's scheme,
// so dHash and pHash fingerprints never end up in the same store.
func openStore(ctx context.Context, cfg *config.Config, codec *fingerprint.Codec, logger *slog.Logger) (database.Store, error) {
	store, err := database.Open(ctx, &cfg.Database, database.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := store.CheckScheme(ctx, codec.Algorithm().Scheme()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// newAuthService builds the account service. Without a configured JWT secret
// a random one is generated, so tokens do not survive a restart.
func newAuthService(cfg *config.Config, users database.UserStore, logger *slog.Logger) (*auth.Service, error) {
	salt, err := cfg.Auth.SaltBytes()
	if err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		logger.Warn("no password salt configured, hashes are salted with the username only")
	}

	secret, err := cfg.Auth.JWTSecretBytes()
	if err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		secret = make([]byte, 64)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating JWT secret: %w", err)
		}
		logger.Warn("no JWT secret configured, generated a random one; tokens will not survive a restart")
	}

	hasher := auth.NewHasher(salt, cfg.Auth.PBKDF2Iterations)
	tokens := auth.NewTokens(secret, cfg.Auth.TokenTTL)
	return auth.NewService(users, hasher, tokens, logger), nil
}

// outputJSON writes data to stdout as indented JSON.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// redactURL hides the password of a database URL for printing.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
