package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);
`

// SQLiteCache implements Cache on a local SQLite file. It survives restarts,
// which makes it useful for single-node deployments where memcached or Redis
// would be overkill. Expired rows are removed lazily on Get and swept in bulk
// on Set.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (or creates) the database at path and prepares the
// cache table. Use ":memory:" for an ephemeral cache in tests.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	// A single writer keeps "database is locked" errors out of concurrent
	// refresh runs.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *SQLiteCache) Get(ctx context.Context, key string) (models.CitySeries, bool, error) {
	var (
		payload   []byte
		expiresAt int64
	)
	row := c.db.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM cache_entries WHERE key = ?", keyPrefix+key)
	if err := row.Scan(&payload, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CitySeries{}, false, nil
		}
		return models.CitySeries{}, false, err
	}
	if time.Now().UnixNano() >= expiresAt {
		_, _ = c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", keyPrefix+key)
		return models.CitySeries{}, false, nil
	}
	var data models.CitySeries
	if err := json.Unmarshal(payload, &data); err != nil {
		return models.CitySeries{}, false, err
	}
	return data, true, nil
}

// Set implements Cache.Set. Each write also sweeps any rows that have
// already expired, so the file does not grow without bound.
func (c *SQLiteCache) Set(ctx context.Context, key string, value models.CitySeries, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = time.Hour // fallback 1h if invalid
	}
	expiresAt := time.Now().Add(ttl).UnixNano()
	if _, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (key, payload, expires_at) VALUES (?, ?, ?)",
		keyPrefix+key, raw, expiresAt); err != nil {
		return err
	}
	_, _ = c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at <= ?", time.Now().UnixNano())
	return nil
}

// Delete implements Cache.Delete. Deleting a missing key is a no-op.
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", keyPrefix+key)
	return err
}

// Ping checks if the database is reachable. Used for health checks.
func (c *SQLiteCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the underlying database. Call during shutdown.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
