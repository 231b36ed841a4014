// Package redis implements database.Store on Redis. Records are JSON
// envelopes under img:<id>, each bucket is a list under fp:<hex>, and the
// set "fingerprints" indexes every non-empty bucket.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "photo-finder:"

const scanBatch = 256

func init() {
	database.RegisterBackend("redis", Open)
}

// insertScript stores a record and appends it to its bucket atomically.
// KEYS[1] = record key, KEYS[2] = bucket list, KEYS[3] = fingerprint set, KEYS[4] = record counter
// ARGV[1] = record JSON, ARGV[2] = id, ARGV[3] = fingerprint hex
// Returns 0 when the id is taken so the caller can pick another.
var insertScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("RPUSH", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[3])
redis.call("INCR", KEYS[4])
return 1
`)

// Store is the Redis FingerprintStore.
type Store struct {
	client *goredis.Client
	prefix string
	opts   database.Options
}

// Open is the database.Opener for redis:// and rediss:// URLs.
func Open(ctx context.Context, cfg *config.DatabaseConfig, opts ...database.Option) (database.Store, error) {
	redisOpts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		redisOpts.PoolSize = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		redisOpts.MaxIdleConns = cfg.MaxIdleConns
	}

	client := goredis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return New(client, DefaultPrefix, opts...), nil
}

// New wraps an existing client.
func New(client *goredis.Client, prefix string, opts ...database.Option) *Store {
	return &Store{client: client, prefix: prefix, opts: database.ApplyOptions(opts...)}
}

func (s *Store) recordKey(id string) string { return s.prefix + "img:" + id }

func (s *Store) bucketKey(fp fingerprint.Fingerprint) string { return s.prefix + "fp:" + fp.String() }

func (s *Store) fingerprintsKey() string { return s.prefix + "fingerprints" }

func (s *Store) countKey() string { return s.prefix + "count" }

func (s *Store) userKey(name string) string { return s.prefix + "user:" + name }

func (s *Store) metaKey() string { return s.prefix + "meta" }

// Insert runs the insert script until it accepts a fresh id.
func (s *Store) Insert(ctx context.Context, rec *database.ImageRecord) (string, error) {
	stored := *rec
	keys := []string{"", s.bucketKey(rec.Fingerprint), s.fingerprintsKey(), s.countKey()}

	for {
		stored.ID = s.opts.NewID()
		payload, err := database.EncodeRecord(&stored)
		if err != nil {
			return "", database.Wrap("insert", err)
		}
		keys[0] = s.recordKey(stored.ID)

		ok, err := insertScript.Run(ctx, s.client, keys, payload, stored.ID, rec.Fingerprint.String()).Int()
		if err != nil {
			return "", database.Wrap("insert", fmt.Errorf("insert script: %w", err))
		}
		if ok == 1 {
			break
		}
		s.opts.Logger.Debug("id collision, regenerating", "id", stored.ID)
	}

	rec.ID = stored.ID
	return stored.ID, nil
}

// GetByID loads one record.
func (s *Store) GetByID(ctx context.Context, id string) (*database.ImageRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get", err)
	}
	r, err := database.DecodeRecord(data)
	if err != nil {
		return nil, database.Wrap("get", err)
	}
	return r, nil
}

// BucketFor reads the id list with one LRANGE, then the records with MGET.
// Records are written before their id is pushed, so every listed id resolves.
func (s *Store) BucketFor(ctx context.Context, fp fingerprint.Fingerprint) (database.Bucket, error) {
	out := database.Bucket{Fingerprint: fp}

	ids, err := s.client.LRange(ctx, s.bucketKey(fp), 0, -1).Result()
	if err != nil {
		return out, database.Wrap("bucket", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return out, database.Wrap("bucket", err)
	}

	out.Records = make([]database.ImageRecord, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			return database.Bucket{Fingerprint: fp}, database.Wrap("bucket", fmt.Errorf("record %s listed in %s is missing", ids[i], fp))
		}
		r, err := database.DecodeRecord([]byte(str))
		if err != nil {
			return database.Bucket{Fingerprint: fp}, database.Wrap("bucket", err)
		}
		out.Records = append(out.Records, *r)
	}
	return out, nil
}

// IterFingerprints walks the fingerprint set with SSCAN and loads each bucket.
// SSCAN may repeat members, so already-yielded fingerprints are skipped.
func (s *Store) IterFingerprints(ctx context.Context) iter.Seq2[database.Bucket, error] {
	return func(yield func(database.Bucket, error) bool) {
		seen := make(map[fingerprint.Fingerprint]struct{})
		var cursor uint64
		for {
			members, next, err := s.client.SScan(ctx, s.fingerprintsKey(), cursor, "", scanBatch).Result()
			if err != nil {
				yield(database.Bucket{}, database.Wrap("iterate", err))
				return
			}

			for _, hex := range members {
				fp, err := fingerprint.Parse(hex)
				if err != nil {
					yield(database.Bucket{}, database.Wrap("iterate", err))
					return
				}
				if _, dup := seen[fp]; dup {
					continue
				}
				seen[fp] = struct{}{}

				b, err := s.BucketFor(ctx, fp)
				if err != nil {
					yield(database.Bucket{}, err)
					return
				}
				if len(b.Records) == 0 {
					continue
				}
				if !yield(b, nil) {
					return
				}
			}

			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

// Count reads the record counter maintained by the insert script.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.client.Get(ctx, s.countKey()).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, database.Wrap("count", err)
	}
	return n, nil
}

type storedUser struct {
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser stores an account with SETNX.
func (s *Store) CreateUser(ctx context.Context, u *database.User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	payload, err := json.Marshal(storedUser{Username: u.Username, PasswordHash: u.PasswordHash, CreatedAt: created})
	if err != nil {
		return database.Wrap("create user", err)
	}
	ok, err := s.client.SetNX(ctx, s.userKey(u.Username), payload, 0).Result()
	if err != nil {
		return database.Wrap("create user", err)
	}
	if !ok {
		return database.ErrUserExists
	}
	return nil
}

// GetUser loads an account.
func (s *Store) GetUser(ctx context.Context, username string) (*database.User, error) {
	data, err := s.client.Get(ctx, s.userKey(username)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get user", err)
	}
	var su storedUser
	if err := json.Unmarshal(data, &su); err != nil {
		return nil, database.Wrap("get user", err)
	}
	return &database.User{Username: su.Username, PasswordHash: su.PasswordHash, CreatedAt: su.CreatedAt}, nil
}

// CheckScheme pins the scheme with HSETNX.
func (s *Store) CheckScheme(ctx context.Context, scheme string) error {
	if err := s.client.HSetNX(ctx, s.metaKey(), "fingerprint_scheme", scheme).Err(); err != nil {
		return database.Wrap("check scheme", err)
	}
	stored, err := s.client.HGet(ctx, s.metaKey(), "fingerprint_scheme").Result()
	if err != nil {
		return database.Wrap("check scheme", err)
	}
	if stored != scheme {
		return fmt.Errorf("%w: store holds %s, requested %s", database.ErrSchemeMismatch, stored, scheme)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
