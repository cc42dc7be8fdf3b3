package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var _ Repo = (*SQLiteRepo)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteRepo persists entries in a single-file SQLite database so a reload of
// the host process finds what the previous run left behind.
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLiteRepo opens (creating if needed) the cache database at path.
// ":memory:" gives a private in-process database.
func OpenSQLiteRepo(ctx context.Context, path string) (*SQLiteRepo, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("[OpenSQLiteRepo] create data folder: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("[OpenSQLiteRepo] open %s: %w", path, err)
	}
	// One connection: writes are serialised and ":memory:" stays one database
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[OpenSQLiteRepo] create schema: %w", err)
	}
	return &SQLiteRepo{db: db}, nil
}

func (r *SQLiteRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("key is required")
	}
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("[SQLiteRepo.Get] %s: %w", key, err)
	}
	return value, true, nil
}

func (r *SQLiteRepo) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("[SQLiteRepo.Set] %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepo) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("[SQLiteRepo.Delete] %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepo) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key FROM entries WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("[SQLiteRepo.Keys] %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("[SQLiteRepo.Keys] scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}
