// Package sqlite keeps the shared store in one SQLite file, for workers on a single host.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"migrator/internal/domain/apperr"
	"migrator/internal/domain/repository"
	"migrator/internal/infrastructure/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_items (
	seq   INTEGER PRIMARY KEY AUTOINCREMENT,
	key   TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_items_key_seq ON queue_items(key, seq);
CREATE TABLE IF NOT EXISTS hash_fields (
	key   TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, field)
);
`

type QueueStore struct {
	db *sql.DB
}

var _ repository.QueueStore = (*QueueStore)(nil)

// Open opens (creating if needed) the store at path. Transactions take the write
// lock up front and wait up to five seconds for other processes.
func Open(path string) (*QueueStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.NewStoreError("open", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, apperr.NewStoreError("migrate", path, err)
	}
	return &QueueStore{db: db}, nil
}

func (s *QueueStore) ListPopFront(ctx context.Context, key string) (string, bool, error) {
	metrics.IncStoreOp("sqlite", "pop")

	var value string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM queue_items
		WHERE seq = (SELECT seq FROM queue_items WHERE key = ? ORDER BY seq LIMIT 1)
		RETURNING value
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail("pop", key, err)
	}
	return value, true, nil
}

func (s *QueueStore) ListPushBack(ctx context.Context, key, value string) error {
	metrics.IncStoreOp("sqlite", "push")

	if _, err := s.db.ExecContext(ctx, "INSERT INTO queue_items (key, value) VALUES (?, ?)", key, value); err != nil {
		return s.fail("push", key, err)
	}
	return nil
}

func (s *QueueStore) HashSet(ctx context.Context, key, field, value string) (int64, error) {
	metrics.IncStoreOp("sqlite", "hset")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.fail("hset", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO hash_fields (key, field, value) VALUES (?, ?, ?)", key, field, value)
	if err != nil {
		return 0, s.fail("hset", key, err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail("hset", key, err)
	}
	if created == 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE hash_fields SET value = ? WHERE key = ? AND field = ?", value, key, field); err != nil {
			return 0, s.fail("hset", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, s.fail("hset", key, err)
	}
	return created, nil
}

func (s *QueueStore) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	metrics.IncStoreOp("sqlite", "hget")

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM hash_fields WHERE key = ? AND field = ?", key, field).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail("hget", key, err)
	}
	return value, true, nil
}

func (s *QueueStore) HashDelete(ctx context.Context, key, field string) error {
	metrics.IncStoreOp("sqlite", "hdel")

	if _, err := s.db.ExecContext(ctx, "DELETE FROM hash_fields WHERE key = ? AND field = ?", key, field); err != nil {
		return s.fail("hdel", key, err)
	}
	return nil
}

func (s *QueueStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	metrics.IncStoreOp("sqlite", "hgetall")

	rows, err := s.db.QueryContext(ctx, "SELECT field, value FROM hash_fields WHERE key = ?", key)
	if err != nil {
		return nil, s.fail("hgetall", key, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, s.fail("hgetall", key, err)
		}
		out[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("hgetall", key, err)
	}
	return out, nil
}

func (s *QueueStore) HashValues(ctx context.Context, key string) ([]string, error) {
	all, err := s.HashGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, value := range all {
		out = append(out, value)
	}
	return out, nil
}

func (s *QueueStore) DeleteKey(ctx context.Context, key string) error {
	metrics.IncStoreOp("sqlite", "del")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("del", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_items WHERE key = ?", key); err != nil {
		return s.fail("del", key, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM hash_fields WHERE key = ?", key); err != nil {
		return s.fail("del", key, err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("del", key, err)
	}
	return nil
}

func (s *QueueStore) Close(context.Context) error {
	return s.db.Close()
}

func (s *QueueStore) fail(op, key string, err error) error {
	metrics.IncError("sqlite_queue_store", op+"_error")
	return apperr.NewStoreError(op, key, err)
}
