package mariadb

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/database/storetest"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

var recordCols = []string{"id", "fingerprint", "owner", "title", "description", "tags", "image_url", "media_type", "width", "height", "created_at"}

func newMockStore(t *testing.T, opts ...database.Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(NewPoolFromDB(db), opts...), mock
}

func TestDSNFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"full", "mysql://finder:s3cret@db:3307/photos", "finder:s3cret@tcp(db:3307)/photos?collation=utf8mb4_bin", false},
		{"default port", "mariadb://finder@db/photos", "finder@tcp(db:3306)/photos?collation=utf8mb4_bin", false},
		{"tls", "mysql://u:p@db/photos?tls=true", "u:p@tcp(db:3306)/photos?collation=utf8mb4_bin&tls=true", false},
		{"wrong scheme", "postgres://db/photos", "", true},
		{"no host", "mysql:///photos", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DSNFromURL(tc.url)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			parsed, err := mysql.ParseDSN(got)
			require.NoError(t, err)
			want, err := mysql.ParseDSN(tc.want)
			require.NoError(t, err)
			assert.Equal(t, want.User, parsed.User)
			assert.Equal(t, want.Passwd, parsed.Passwd)
			assert.Equal(t, want.Addr, parsed.Addr)
			assert.Equal(t, want.DBName, parsed.DBName)
			assert.Equal(t, want.TLSConfig, parsed.TLSConfig)
			assert.Equal(t, "utf8mb4_bin", parsed.Collation)
		})
	}
}

func TestInsertRegeneratesCollidingID(t *testing.T) {
	store, mock := newMockStore(t, database.WithIDGenerator(storetest.SequenceIDs("AAAAAAAAAAAA", "BBBBBBBBBBBB")))
	ctx := context.Background()
	rec := storetest.NewRecord(fingerprint.Fingerprint(0xff), "alice")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fingerprint_buckets")).
		WithArgs("00000000000000ff").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT size FROM fingerprint_buckets")).
		WithArgs("00000000000000ff").
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO images")).
		WithArgs("AAAAAAAAAAAA", "00000000000000ff", 2, "alice", rec.Title, rec.Description, "[]",
			"", "image/png", 64, 48, rec.CreatedAt).
		WillReturnError(&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry 'AAAAAAAAAAAA' for key 'PRIMARY'"})
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO images")).
		WithArgs("BBBBBBBBBBBB", "00000000000000ff", 2, "alice", rec.Title, rec.Description, "[]",
			"", "image/png", 64, 48, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := store.Insert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBBBB", id)
	assert.Equal(t, "BBBBBBBBBBBB", rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPositionConflictFails(t *testing.T) {
	store, mock := newMockStore(t, database.WithIDGenerator(storetest.SequenceIDs("AAAAAAAAAAAA", "BBBBBBBBBBBB")))
	rec := storetest.NewRecord(fingerprint.Fingerprint(0xff), "alice")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fingerprint_buckets")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT size FROM fingerprint_buckets")).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO images")).
		WillReturnError(&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry '00000000000000ff-2' for key 'images_bucket'"})
	mock.ExpectRollback()

	_, err := store.Insert(context.Background(), rec)
	assert.ErrorIs(t, err, database.ErrStore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsPrimaryKeyDuplicate(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry 'x' for key 'PRIMARY'"}, true},
		{&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry 'x' for key 'images.PRIMARY'"}, true},
		{&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry 'x' for key 'images_bucket'"}, false},
		{&mysql.MySQLError{Number: errDeadlock, Message: "Deadlock found"}, false},
		{errors.New("boom"), false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, isPrimaryKeyDuplicate(tc.err), tc.err.Error())
	}
}

func TestInsertRetriesDeadlock(t *testing.T) {
	store, mock := newMockStore(t, database.WithIDGenerator(storetest.SequenceIDs("AAAAAAAAAAAA")))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fingerprint_buckets")).
		WillReturnError(&mysql.MySQLError{Number: errDeadlock, Message: "Deadlock found"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fingerprint_buckets")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT size FROM fingerprint_buckets")).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO images")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := store.Insert(ctx, storetest.NewRecord(1, "alice"))
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAAAAAA", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fingerprint_buckets")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT size FROM fingerprint_buckets")).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO images")).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := store.Insert(ctx, storetest.NewRecord(3, "alice"))
	assert.ErrorIs(t, err, database.ErrStore)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM images WHERE id = ?")).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("abc", "fffffffffffffffe", "alice", "t", "d", `["sunset","lake"]`, "https://x/y.png", "image/png", 10, 20, int64(1700000000)))

	r, err := store.GetByID(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Fingerprint(0xfffffffffffffffe), r.Fingerprint)
	assert.Equal(t, []string{"sunset", "lake"}, r.Tags)
	assert.Equal(t, int64(1700000000), r.CreatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM images WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(recordCols))
	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIterFingerprintsGroupsRows(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY fingerprint, position")).
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("a", "0000000000000001", "u", "", "", "[]", "", "", 1, 1, int64(1)).
			AddRow("b", "0000000000000001", "u", "", "", "[]", "", "", 1, 1, int64(2)).
			AddRow("c", "0000000000000002", "u", "", "", "[]", "", "", 1, 1, int64(3)))

	var buckets []database.Bucket
	for b, err := range store.IterFingerprints(ctx) {
		require.NoError(t, err)
		buckets = append(buckets, b)
	}
	require.Len(t, buckets, 2)
	assert.Equal(t, fingerprint.Fingerprint(1), buckets[0].Fingerprint)
	assert.Len(t, buckets[0].Records, 2)
	assert.Equal(t, "b", buckets[0].Records[1].ID)
	assert.Equal(t, "c", buckets[1].Records[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIterFingerprintsYieldsQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY fingerprint, position")).WillReturnError(errors.New("gone away"))

	var errs []error
	for _, err := range store.IterFingerprints(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], database.ErrStore)
}

func TestCreateUserDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry 'alice'"})

	err := store.CreateUser(context.Background(), &database.User{Username: "alice", PasswordHash: []byte{1}})
	assert.ErrorIs(t, err, database.ErrUserExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSchemeMismatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO store_meta")).
		WithArgs("phash-64").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT meta_value FROM store_meta")).
		WillReturnRows(sqlmock.NewRows([]string{"meta_value"}).AddRow("dhash-64"))

	err := store.CheckScheme(context.Background(), "phash-64")
	assert.ErrorIs(t, err, database.ErrSchemeMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}
