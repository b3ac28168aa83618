package patterns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Драйвер SQLite без cgo
)

// SQLiteStore — локальное key-value хранилище: одна таблица kv, снимок под фиксированным ключом.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

func NewSQLiteStore(ctx context.Context, path, key string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// Один писатель: SQLite сериализует запись на уровне файла
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &SQLiteStore{db: db, key: key}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, s.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load %s: %w", s.key, err)
	}
	return decodeSnapshot([]byte(raw))
}

func (s *SQLiteStore) Save(ctx context.Context, snapshot map[string]int) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return s.put(ctx, string(data))
}

func (s *SQLiteStore) put(ctx context.Context, value string) error {
	const query = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, query, s.key, value); err != nil {
		return fmt.Errorf("sqlite: save %s: %w", s.key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
