// internal/storage/sql.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// DefaultTable is the key-value table used when none is configured.
const DefaultTable = "kv_store"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type dialect struct {
	create string
	upsert string
}

// Queries use ? placeholders; sqlx rebinds them for the driver.
const getQuery = `SELECT value FROM %s WHERE name = ?`

var dialects = map[string]dialect{
	DriverSQLite: {
		create: `CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, value BLOB NOT NULL, updated_at TIMESTAMP NOT NULL)`,
		upsert: `INSERT INTO %s (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	},
	DriverPostgres: {
		create: `CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, value BYTEA NOT NULL, updated_at TIMESTAMPTZ NOT NULL)`,
		upsert: `INSERT INTO %s (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	},
	DriverMySQL: {
		create: `CREATE TABLE IF NOT EXISTS %s (name VARCHAR(255) NOT NULL PRIMARY KEY, value LONGBLOB NOT NULL, updated_at DATETIME(6) NOT NULL)`,
		upsert: `INSERT INTO %s (name, value, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`,
	},
}

// SQLStore keeps values in a single table of a SQL database.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	get    string
	upsert string
	limit  int
}

// NewSQLStore connects with driver/dsn and creates the table if missing.
func NewSQLStore(ctx context.Context, driver, dsn, table string, limit int) (*SQLStore, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("unsupported SQL driver: %s", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s, err := NewSQLStoreFromDB(ctx, db, table, limit)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreFromDB uses an open connection. The dialect follows
// db.DriverName(); the store takes ownership of db.
func NewSQLStoreFromDB(ctx context.Context, db *sqlx.DB, table string, limit int) (*SQLStore, error) {
	driver := db.DriverName()
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL driver: %s", driver)
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(d.create, table)); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	return &SQLStore{
		db:     db,
		driver: driver,
		get:    db.Rebind(fmt.Sprintf(getQuery, table)),
		upsert: db.Rebind(fmt.Sprintf(d.upsert, table)),
		limit:  limit,
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, s.get, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	if err := checkSize(key, value, s.limit); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.upsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
