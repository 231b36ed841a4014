package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// maxTxAttempts bounds how often an insert that InnoDB picked as a deadlock
// or lock-wait victim is replayed. Other errors are never retried.
const maxTxAttempts = 5

// Insert appends rec to its bucket. The bucket counter row is locked for the
// rest of the transaction, so positions are handed out in commit order.
func (s *Store) Insert(ctx context.Context, rec *database.ImageRecord) (string, error) {
	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return "", database.Wrap("insert", err)
	}

	for attempt := 1; ; attempt++ {
		id, err := s.insertTx(ctx, rec, string(tags))
		if err == nil {
			rec.ID = id
			return id, nil
		}
		switch mysqlErrorNumber(err) {
		case errDeadlock, errLockWaitTimeout:
			if attempt < maxTxAttempts {
				s.opts.Logger.Debug("retrying insert after lock conflict", "attempt", attempt, "error", err)
				continue
			}
		}
		return "", database.Wrap("insert", err)
	}
}

func (s *Store) insertTx(ctx context.Context, rec *database.ImageRecord, tags string) (string, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	fp := rec.Fingerprint.String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fingerprint_buckets (fingerprint, size) VALUES (?, 1) ON DUPLICATE KEY UPDATE size = size + 1`, fp); err != nil {
		return "", fmt.Errorf("growing bucket: %w", err)
	}
	var size int
	if err := tx.QueryRowContext(ctx, `SELECT size FROM fingerprint_buckets WHERE fingerprint = ?`, fp).Scan(&size); err != nil {
		return "", fmt.Errorf("reading bucket size: %w", err)
	}

	var id string
	for {
		id = s.opts.NewID()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO images (id, fingerprint, position, owner, title, description, tags, image_url, media_type, width, height, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, fp, size-1, rec.Owner, rec.Title, rec.Description, tags,
			rec.ImageURL, rec.MediaType, rec.Width, rec.Height, rec.CreatedAt)
		if err == nil {
			break
		}
		if !isPrimaryKeyDuplicate(err) {
			return "", fmt.Errorf("inserting image: %w", err)
		}
		s.opts.Logger.Debug("id collision, regenerating", "id", id)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return id, nil
}

const recordColumns = `id, fingerprint, owner, title, description, tags, image_url, media_type, width, height, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*database.ImageRecord, error) {
	var (
		r      database.ImageRecord
		fpHex  string
		tagsJS string
	)
	if err := row.Scan(&r.ID, &fpHex, &r.Owner, &r.Title, &r.Description, &tagsJS,
		&r.ImageURL, &r.MediaType, &r.Width, &r.Height, &r.CreatedAt); err != nil {
		return nil, err
	}
	fp, err := fingerprint.Parse(fpHex)
	if err != nil {
		return nil, err
	}
	r.Fingerprint = fp
	if err := json.Unmarshal([]byte(tagsJS), &r.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", r.ID, err)
	}
	r.Tags = nonNil(r.Tags)
	return &r, nil
}

// GetByID looks up one record.
func (s *Store) GetByID(ctx context.Context, id string) (*database.ImageRecord, error) {
	row := s.pool.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM images WHERE id = ?`, id)
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
	out := database.Bucket{Fingerprint: fp}
	rows, err := s.pool.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM images WHERE fingerprint = ? ORDER BY position`, fp.String())
	if err != nil {
		return out, database.Wrap("bucket", err)
	}
	defer rows.Close()

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

// IterFingerprints streams every bucket from one query; InnoDB serves it from
// a single consistent read view.
func (s *Store) IterFingerprints(ctx context.Context) iter.Seq2[database.Bucket, error] {
	return func(yield func(database.Bucket, error) bool) {
		rows, err := s.pool.db.QueryContext(ctx,
			`SELECT `+recordColumns+` FROM images ORDER BY fingerprint, position`)
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
	if err := s.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, database.Wrap("count", err)
	}
	return n, nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
