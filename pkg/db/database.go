// Package db provides the key/value storage backends for the aquarium dashboard.
// SQLite is the default durable backend; Redis serves multi-instance deployments and
// an in-memory map serves tests and ephemeral runs.
package db

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// UpdateFunc computes the next value of a key from its current one. Returning
// write=false leaves the key untouched.
type UpdateFunc func(current string, exists bool) (next string, write bool, err error)

// KV is a string key/value store. Get reports ok=false for a missing key. Update runs a
// read-modify-write atomically with respect to every other writer of the backend,
// including other processes sharing it, and reports whether it wrote.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Update(ctx context.Context, key string, fn UpdateFunc) (bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// NonceStore tracks HMAC nonces for replay protection.
type NonceStore interface {
	HasSeenNonce(nonce string) (bool, error)
	SaveNonce(nonce string) error
	CleanupOldNonces(olderThan time.Time) error
}

// Database is a KV that also tracks nonces.
type Database interface {
	KV
	NonceStore
}

// Options selects and configures a backend.
type Options struct {
	Backend       string
	SQLitePath    string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Database, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return NewSQLiteDB(opts.SQLitePath)
	case BackendRedis:
		return NewRedisDB(ctx, opts.RedisAddress, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
	case BackendMemory:
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}

var (
	_ Database = (*SQLiteDB)(nil)
	_ Database = (*RedisDB)(nil)
	_ Database = (*MemoryDB)(nil)
)
