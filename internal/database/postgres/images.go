package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/lib/pq"

	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

const insertImageSQL = `
	INSERT INTO images (id, fingerprint, owner, title, description, tags, image_url, media_type, width, height, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`

// appendBucketSQL is a single-row upsert; the row lock taken by ON CONFLICT
// makes the read-modify-write of one bucket atomic without touching others.
const appendBucketSQL = `
	INSERT INTO fingerprint_buckets (fingerprint, image_ids) VALUES ($1, ARRAY[$2::TEXT])
	ON CONFLICT (fingerprint) DO UPDATE
	SET image_ids = fingerprint_buckets.image_ids || EXCLUDED.image_ids`

const recordColumns = `i.id, i.fingerprint, i.owner, i.title, i.description, i.tags, i.image_url, i.media_type, i.width, i.height, i.created_at`

const bucketSelectSQL = `
	SELECT ` + recordColumns + `
	FROM fingerprint_buckets b
	CROSS JOIN LATERAL unnest(b.image_ids) WITH ORDINALITY AS u(image_id, pos)
	JOIN images i ON i.id = u.image_id`

// Insert stores the record and appends its id to the bucket in one transaction.
func (s *Store) Insert(ctx context.Context, rec *database.ImageRecord) (string, error) {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return "", database.Wrap("insert", err)
	}
	defer tx.Rollback()

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	var id string
	for {
		id = s.opts.NewID()
		res, err := tx.ExecContext(ctx, insertImageSQL,
			id, toBigint(rec.Fingerprint), rec.Owner, rec.Title, rec.Description, pq.Array(tags),
			rec.ImageURL, rec.MediaType, rec.Width, rec.Height, rec.CreatedAt)
		if err != nil {
			return "", database.Wrap("insert", fmt.Errorf("inserting image: %w", err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", database.Wrap("insert", err)
		}
		if n == 1 {
			break
		}
		s.opts.Logger.Debug("id collision, regenerating", "id", id)
	}

	if _, err := tx.ExecContext(ctx, appendBucketSQL, toBigint(rec.Fingerprint), id); err != nil {
		return "", database.Wrap("insert", fmt.Errorf("appending to bucket: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return "", database.Wrap("insert", fmt.Errorf("committing: %w", err))
	}

	rec.ID = id
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*database.ImageRecord, error) {
	var (
		r  database.ImageRecord
		fp int64
	)
	if err := row.Scan(&r.ID, &fp, &r.Owner, &r.Title, &r.Description, pq.Array(&r.Tags),
		&r.ImageURL, &r.MediaType, &r.Width, &r.Height, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Fingerprint = fromBigint(fp)
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return &r, nil
}

// GetByID looks up one record.
func (s *Store) GetByID(ctx context.Context, id string) (*database.ImageRecord, error) {
	row := s.pool.DB().QueryRowContext(ctx, `SELECT `+recordColumns+` FROM images i WHERE i.id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, database.Wrap("get", err)
	}
	return r, nil
}

// BucketFor returns the records sharing fp in insertion order.
func (s *Store) BucketFor(ctx context.Context, fp fingerprint.Fingerprint) (database.Bucket, error) {
	rows, err := s.pool.DB().QueryContext(ctx, bucketSelectSQL+` WHERE b.fingerprint = $1 ORDER BY u.pos`, toBigint(fp))
	if err != nil {
		return database.Bucket{Fingerprint: fp}, database.Wrap("bucket", err)
	}
	defer rows.Close()

	out := database.Bucket{Fingerprint: fp}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return database.Bucket{Fingerprint: fp}, database.Wrap("bucket", err)
		}
		out.Records = append(out.Records, *r)
	}
	if err := rows.Err(); err != nil {
		return database.Bucket{Fingerprint: fp}, database.Wrap("bucket", err)
	}
	return out, nil
}

// IterFingerprints streams all buckets from one statement. The statement
// sees a single snapshot, so a bucket is never observed half-appended.
func (s *Store) IterFingerprints(ctx context.Context) iter.Seq2[database.Bucket, error] {
	return func(yield func(database.Bucket, error) bool) {
		rows, err := s.pool.DB().QueryContext(ctx, bucketSelectSQL+` ORDER BY b.fingerprint, u.pos`)
		if err != nil {
			yield(database.Bucket{}, database.Wrap("iterate", err))
			return
		}
		defer rows.Close()

		var cur database.Bucket
		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				yield(database.Bucket{}, database.Wrap("iterate", err))
				return
			}
			if len(cur.Records) > 0 && cur.Fingerprint != r.Fingerprint {
				if !yield(cur, nil) {
					return
				}
				cur = database.Bucket{}
			}
			cur.Fingerprint = r.Fingerprint
			cur.Records = append(cur.Records, *r)
		}
		if err := rows.Err(); err != nil {
			yield(database.Bucket{}, database.Wrap("iterate", err))
			return
		}
		if len(cur.Records) > 0 {
			yield(cur, nil)
		}
	}
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, database.Wrap("count", err)
	}
	return n, nil
}

// toBigint reinterprets the unsigned fingerprint as the signed value stored in BIGINT columns.
func toBigint(fp fingerprint.Fingerprint) int64 {
	return int64(fp)
}

func fromBigint(v int64) fingerprint.Fingerprint {
	return fingerprint.Fingerprint(uint64(v))
}
