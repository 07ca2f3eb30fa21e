// Package storage is the key-value side channel the resolver persists its
// learning memory through. Values are opaque JSON blobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("key not found")
	ErrValueTooLarge = errors.New("value exceeds size limit")
	ErrClosed        = errors.New("store is closed")
)

// DefaultMaxValueBytes bounds a single stored value.
const DefaultMaxValueBytes = 2 << 20

// Store is a get/set key-value store. Implementations are safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMongo    = "mongodb"
	DriverRedis    = "redis"
)

// Config selects and parameterizes a Store.
type Config struct {
	Driver        string        `yaml:"driver" json:"driver"`
	Path          string        `yaml:"path,omitempty" json:"path,omitempty"`
	DSN           string        `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Table         string        `yaml:"table,omitempty" json:"table,omitempty"`
	Database      string        `yaml:"database,omitempty" json:"database,omitempty"`
	Collection    string        `yaml:"collection,omitempty" json:"collection,omitempty"`
	KeyPrefix     string        `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
	MaxValueBytes int           `yaml:"max_value_bytes,omitempty" json:"max_value_bytes,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks that the driver is known and has what it needs.
func (c Config) Validate() error {
	switch strings.ToLower(c.Driver) {
	case "", DriverMemory:
		return nil
	case DriverFile, DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("storage driver %q requires a path", c.Driver)
		}
	case DriverPostgres, DriverMySQL, DriverMongo, DriverRedis:
		if c.DSN == "" {
			return fmt.Errorf("storage driver %q requires a dsn", c.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Driver)
	}
	if c.MaxValueBytes < 0 {
		return fmt.Errorf("max_value_bytes must be non-negative")
	}
	return nil
}

// Open builds the Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := cfg.MaxValueBytes
	if limit == 0 {
		limit = DefaultMaxValueBytes
	}

	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemoryStore(limit), nil
	case DriverFile:
		return NewFileStore(cfg.Path, limit)
	case DriverSQLite:
		return NewSQLStore(ctx, DriverSQLite, cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL", cfg.Table, limit)
	case DriverPostgres, DriverMySQL:
		return NewSQLStore(ctx, strings.ToLower(cfg.Driver), cfg.DSN, cfg.Table, limit)
	case DriverRedis:
		return NewRedisStore(ctx, cfg.DSN, cfg.KeyPrefix, cfg.Timeout, limit)
	default:
		return NewMongoStore(ctx, cfg.DSN, cfg.Database, cfg.Collection, cfg.Timeout, limit)
	}
}

func checkSize(key string, value []byte, limit int) error {
	if limit > 0 && len(value) > limit {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrValueTooLarge, key, len(value), limit)
	}
	return nil
}
