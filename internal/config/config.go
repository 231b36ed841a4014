package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDatabaseURL keeps data in an embedded SQLite file.
	DefaultDatabaseURL = "sqlite://./data/photo-finder.db"

	// DefaultHammingDistance is the search threshold in bits when none is configured.
	DefaultHammingDistance = 20

	// MaxHammingDistance is the fingerprint length; larger thresholds match everything.
	MaxHammingDistance = 64
)

type Config struct {
	Web         WebConfig
	Auth        AuthConfig
	Search      SearchConfig
	Fingerprint FingerprintConfig
	Database    DatabaseConfig
	Blob        BlobConfig
	Telemetry   TelemetryConfig
}

type WebConfig struct {
	Host           string   // defaults to 0.0.0.0
	Port           int      // defaults to 8080
	AllowedOrigins []string // CORS origins in addition to localhost
}

type AuthConfig struct {
	Salt             string        // base64; prefixed to the username to salt password hashes
	JWTSecret        string        // base64; HS512 signing key
	TokenTTL         time.Duration // defaults to 60 minutes
	PBKDF2Iterations int           // defaults to 100000
}

// SaltBytes decodes the configured salt.
func (c *AuthConfig) SaltBytes() ([]byte, error) {
	return decodeSecret("salt", c.Salt)
}

// JWTSecretBytes decodes the configured signing key.
func (c *AuthConfig) JWTSecretBytes() ([]byte, error) {
	return decodeSecret("jwtSecret", c.JWTSecret)
}

type SearchConfig struct {
	HammingDistance uint // default threshold in bits
}

type FingerprintConfig struct {
	Algorithm     string        // dhash (default) or phash
	FetchTimeout  time.Duration // defaults to 10s
	MaxImageBytes int64         // defaults to 10 MiB
	MaxPixels     int64         // width*height limit, defaults to 40 megapixels
}

type DatabaseConfig struct {
	URL          string // memory://, sqlite://, postgres://, mysql:// or redis:// URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type BlobConfig struct {
	Provider  string // s3, gcs or empty to disable uploads
	Bucket    string
	Region    string // S3 only; defaults to us-east-1
	Endpoint  string // S3-compatible endpoint override, e.g. MinIO
	AccessKey string // static S3 credentials; the default AWS chain is used when empty
	SecretKey string
	Prefix    string // object key prefix, defaults to images/
	PublicURL string // base for stored image URLs; derived from the provider when empty
}

// Enabled reports whether uploaded images should be copied to blob storage.
func (c *BlobConfig) Enabled() bool {
	return c.Provider != "" && c.Bucket != ""
}

type TelemetryConfig struct {
	OTLPEndpoint string // tracing is disabled when empty
	ServiceName  string
	Insecure     bool
}

// fileConfig mirrors the optional config file. The camelCase keys match the
// legacy config.json layout, which YAML parses as well.
type fileConfig struct {
	Salt            string `yaml:"salt"`
	JWTSecret       string `yaml:"jwtSecret"`
	HammingDistance *int   `yaml:"hammingDistance"`
	S3BucketName    string `yaml:"s3BucketName"`

	Web struct {
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"web"`
	Fingerprint struct {
		Algorithm    string `yaml:"algorithm"`
		FetchTimeout string `yaml:"fetchTimeout"`
	} `yaml:"fingerprint"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Blob struct {
		Provider  string `yaml:"provider"`
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		Prefix    string `yaml:"prefix"`
		PublicURL string `yaml:"publicUrl"`
	} `yaml:"blob"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString returns the env var if set, otherwise fallback.
func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDuration parses a Go duration, falling back on unset or invalid values.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// Load reads the optional config file, applies environment overrides and
// validates the result. The file is CONFIG_FILE if set, otherwise the first
// of ./config.yaml and ./config.json that exists.
func Load() (*Config, error) {
	fc, err := readFile()
	if err != nil {
		return nil, err
	}

	hamming := DefaultHammingDistance
	if fc.HammingDistance != nil {
		hamming = *fc.HammingDistance
	}
	if s := os.Getenv("HAMMING_DISTANCE"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("HAMMING_DISTANCE: %w", err)
		}
		hamming = n
	}
	if hamming < 0 {
		return nil, fmt.Errorf("hamming distance must not be negative, got %d", hamming)
	}

	fetchTimeout := 10 * time.Second
	if fc.Fingerprint.FetchTimeout != "" {
		d, err := time.ParseDuration(fc.Fingerprint.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("fingerprint.fetchTimeout: %w", err)
		}
		fetchTimeout = d
	}

	port := fc.Web.Port
	if port == 0 {
		port = 8080
	}

	cfg := &Config{
		Web: WebConfig{
			Host:           envString("HOST", or(fc.Web.Host, "0.0.0.0")),
			Port:           envInt("PORT", port),
			AllowedOrigins: splitList(envString("WEB_ALLOWED_ORIGINS", strings.Join(fc.Web.AllowedOrigins, ","))),
		},
		Auth: AuthConfig{
			Salt:             envString("AUTH_SALT", fc.Salt),
			JWTSecret:        envString("JWT_SECRET", fc.JWTSecret),
			TokenTTL:         envDuration("JWT_TTL", 60*time.Minute),
			PBKDF2Iterations: envInt("PBKDF2_ITERATIONS", 100_000),
		},
		Search: SearchConfig{
			HammingDistance: uint(hamming),
		},
		Fingerprint: FingerprintConfig{
			Algorithm:     strings.ToLower(envString("FINGERPRINT_ALGORITHM", or(fc.Fingerprint.Algorithm, "dhash"))),
			FetchTimeout:  envDuration("FETCH_TIMEOUT", fetchTimeout),
			MaxImageBytes: int64(envInt("MAX_IMAGE_BYTES", 10<<20)),
			MaxPixels:     int64(envInt("MAX_IMAGE_PIXELS", 40_000_000)),
		},
		Database: DatabaseConfig{
			URL:          envString("DATABASE_URL", or(fc.Database.URL, DefaultDatabaseURL)),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Blob: BlobConfig{
			Provider:  strings.ToLower(envString("BLOB_PROVIDER", fc.Blob.Provider)),
			Bucket:    envString("BLOB_BUCKET", or(fc.Blob.Bucket, fc.S3BucketName)),
			Region:    envString("AWS_REGION", or(fc.Blob.Region, "us-east-1")),
			Endpoint:  envString("BLOB_ENDPOINT", fc.Blob.Endpoint),
			AccessKey: os.Getenv("BLOB_ACCESS_KEY"),
			SecretKey: os.Getenv("BLOB_SECRET_KEY"),
			Prefix:    envString("BLOB_PREFIX", or(fc.Blob.Prefix, "images/")),
			PublicURL: envString("BLOB_PUBLIC_URL", fc.Blob.PublicURL),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  envString("OTEL_SERVICE_NAME", "photo-finder"),
			Insecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		},
	}

	// The legacy config only named an S3 bucket.
	if cfg.Blob.Provider == "" && cfg.Blob.Bucket != "" {
		cfg.Blob.Provider = "s3"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Search.HammingDistance > MaxHammingDistance {
		errs = append(errs, fmt.Errorf("hamming distance must be at most %d, got %d", MaxHammingDistance, c.Search.HammingDistance))
	}
	switch c.Fingerprint.Algorithm {
	case "dhash", "phash":
	default:
		errs = append(errs, fmt.Errorf("unknown fingerprint algorithm %q", c.Fingerprint.Algorithm))
	}
	switch c.Blob.Provider {
	case "", "s3", "gcs":
	default:
		errs = append(errs, fmt.Errorf("unknown blob provider %q", c.Blob.Provider))
	}
	if _, err := c.Auth.SaltBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Auth.JWTSecretBytes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func readFile() (*fileConfig, error) {
	var fc fileConfig

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.json"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return &fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &fc, nil
}

func decodeSecret(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", name, err)
	}
	return b, nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
