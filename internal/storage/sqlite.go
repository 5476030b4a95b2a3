package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite table via modernc.org/sqlite
// (pure Go). It backs single-host deployments that run without redis.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens dbPath; use ":memory:" for testing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	return s.get(ctx, s.db, key)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, key Key) ([]byte, bool, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, string(key)).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key Key, value []byte) error {
	return s.set(ctx, s.db, key, value)
}

func (s *SQLiteStore) set(ctx context.Context, q queryer, key Key, value []byte) error {
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, string(key), value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, string(key)); err != nil {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SetIfAbsent(ctx context.Context, key Key, value []byte) (bool, error) {
	query := `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, string(key), value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("storage: set-if-absent %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: set-if-absent %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin update %s: %w", key, err)
	}
	defer tx.Rollback()

	cur, ok, err := s.get(ctx, tx, key)
	if err != nil {
		return err
	}
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	if next == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, string(key)); err != nil {
			return fmt.Errorf("storage: remove %s: %w", key, err)
		}
	} else if err := s.set(ctx, tx, key, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit update %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
