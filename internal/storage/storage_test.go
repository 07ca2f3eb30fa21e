package storage

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "scrapemend.memory", []byte(`{"version":1}`)))
	got, err := s.Get(ctx, "scrapemend.memory")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1}`, string(got))

	require.NoError(t, s.Set(ctx, "scrapemend.memory", []byte(`{"version":2}`)))
	got, err = s.Get(ctx, "scrapemend.memory")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, string(got))

	err = s.Set(ctx, "big", make([]byte, 65))
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(64)
	exerciseStore(t, s)

	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), "scrapemend.memory")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "memory"), 64)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestSQLStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := NewSQLStore(context.Background(), DriverSQLite, path, "", 64)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLStore_RejectsBadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	_, err := NewSQLStore(context.Background(), DriverSQLite, path, "kv; DROP TABLE x", 0)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default memory", Config{}, false},
		{"file", Config{Driver: "file", Path: filepath.Join(dir, "files")}, false},
		{"sqlite", Config{Driver: "sqlite3", Path: filepath.Join(dir, "kv.db")}, false},
		{"file without path", Config{Driver: "file"}, true},
		{"postgres without dsn", Config{Driver: "postgres"}, true},
		{"redis without dsn", Config{Driver: "redis"}, true},
		{"unknown", Config{Driver: "cassandra"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := Open(context.Background(), Config{
		Driver:        DriverRedis,
		DSN:           "redis://" + mr.Addr() + "/0",
		KeyPrefix:     "test:",
		MaxValueBytes: 64,
	})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)

	assert.True(t, mr.Exists("test:scrapemend.memory"))
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), "redis://"+addr, "", 0, 0)
	assert.Error(t, err)

	_, err = NewRedisStore(context.Background(), "http://nope", "", 0, 0)
	assert.Error(t, err)
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, DriverPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS memory`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLStoreFromDB(context.Background(), db, "memory", 0)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO memory (name, value, updated_at) VALUES ($1, $2, $3)`)).
		WithArgs("scrapemend.memory", []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Set(context.Background(), "scrapemend.memory", []byte(`{}`)))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM memory WHERE name = $1`)).
		WithArgs("scrapemend.memory").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{}`)))
	got, err := s.Get(context.Background(), "scrapemend.memory")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM memory WHERE name = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectClose()
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
