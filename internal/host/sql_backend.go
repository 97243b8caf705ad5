package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// sqlDialect holds the statements that differ between PostgreSQL and SQLite.
type sqlDialect struct {
	load   string
	upsert string
	delete string
	keys   string
}

var postgresDialect = sqlDialect{
	load: `SELECT value FROM host_state WHERE key = $1`,
	upsert: `
		INSERT INTO host_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
	delete: `DELETE FROM host_state WHERE key = $1`,
	keys: `SELECT key FROM host_state WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
}

var sqliteDialect = sqlDialect{
	load: `SELECT value FROM host_state WHERE key = ?`,
	upsert: `
		INSERT INTO host_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
	delete: `DELETE FROM host_state WHERE key = ?`,
	keys: `SELECT key FROM host_state WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
}

// sqlBackend stores committed state in a host_state table. Each Commit is one
// SQL transaction.
type sqlBackend struct {
	db      *sql.DB
	dialect sqlDialect
}

func (b *sqlBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, b.dialect.load, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *sqlBackend) Commit(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, b.dialect.upsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, w := range writes {
		if w.Delete {
			if _, err := tx.ExecContext(ctx, b.dialect.delete, w.Key); err != nil {
				return fmt.Errorf("delete %s: %w", w.Key, err)
			}
			continue
		}
		if _, err := stmt.ExecContext(ctx, w.Key, w.Value); err != nil {
			return fmt.Errorf("upsert %s: %w", w.Key, err)
		}
	}
	return tx.Commit()
}

func (b *sqlBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, b.dialect.keys, likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *sqlBackend) Close() error {
	return b.db.Close()
}

// Ping checks the database connection.
func (b *sqlBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// DB exposes the underlying handle (stats collection, shared stores).
func (b *sqlBackend) DB() *sql.DB {
	return b.db
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
