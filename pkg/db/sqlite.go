package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB provides durable key/value storage for the dashboard.
// Holds the persisted status snapshot, challenge cache, solved-set, confirmation latches
// and the nonce table used by HMAC replay protection.
type SQLiteDB struct {
	db   *sql.DB // SQLite database connection
	path string  // File path, exposed for the store watcher
}

// NewSQLiteDB creates and initializes a new SQLite-backed store.
// Opens the connection, enables WAL mode for concurrent readers, and creates required tables.
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	// WAL mode for concurrent readers and a busy timeout so writers from other
	// processes wait for the lock. Set in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sdb := &SQLiteDB{db: db, path: dbPath}
	if err := sdb.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return sdb, nil
}

// createTables initializes the key/value and nonce tables.
func (s *SQLiteDB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS seen_nonces (
			nonce TEXT PRIMARY KEY,
			seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS ix_seen_nonces_seen_at ON seen_nonces(seen_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}

// Path returns the database file path.
func (s *SQLiteDB) Path() string {
	return s.path
}

// Get returns the value stored under key. ok is false when the key is absent.
func (s *SQLiteDB) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *SQLiteDB) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Update runs fn inside an immediate transaction, so concurrent writers from this or
// another process serialize on the database write lock.
func (s *SQLiteDB) Update(ctx context.Context, key string, fn UpdateFunc) (written bool, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return false, fmt.Errorf("failed to begin update of %s: %w", key, err)
	}
	defer func() {
		if err != nil || !written {
			// Background context so a cancelled caller cannot leave the lock held
			conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var current string
	exists := true
	err = conn.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&current)
	if err == sql.ErrNoRows {
		exists, err = false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	next, write, err := fn(current, exists)
	if err != nil || !write {
		return false, err
	}

	if _, err = conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, next, time.Now()); err != nil {
		return false, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return false, fmt.Errorf("failed to commit update of %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteDB) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) HasSeenNonce(nonce string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM seen_nonces WHERE nonce = ?", nonce).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteDB) SaveNonce(nonce string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO seen_nonces (nonce, seen_at) VALUES (?, ?)",
		nonce, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

func (s *SQLiteDB) CleanupOldNonces(olderThan time.Time) error {
	_, err := s.db.Exec("DELETE FROM seen_nonces WHERE seen_at < ?", olderThan)
	if err != nil {
		return fmt.Errorf("failed to cleanup old nonces: %w", err)
	}
	return nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
