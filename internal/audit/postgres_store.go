package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore persists records in the audit_events table created by the
// goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open PostgreSQL handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts the batch in one transaction.
func (p *PostgresStore) Append(ctx context.Context, records []Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events (invocation, op, topic, audit, addresses, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("audit: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Invocation, r.Op, r.Topic, r.Audit,
			pq.Array(r.Addresses), []byte(r.Payload), r.CreatedAt); err != nil {
			return fmt.Errorf("audit: insert %s: %w", r.Topic, err)
		}
	}
	return tx.Commit()
}

// Query returns matching records newest first.
func (p *PostgresStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Topic != "" {
		add("topic LIKE $%d", escapeLike(f.Topic)+"%")
	}
	if f.Invocation != "" {
		add("invocation = $%d", f.Invocation)
	}
	if f.Address != "" {
		add("$%d = ANY(addresses)", strings.ToLower(f.Address))
	}
	if f.Before > 0 {
		add("seq < $%d", f.Before)
	}
	if f.AuditOnly {
		where = append(where, "audit = TRUE")
	}

	query := `SELECT seq, invocation, op, topic, audit, addresses, payload, created_at FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			payload []byte
		)
		if err := rows.Scan(&r.Seq, &r.Invocation, &r.Op, &r.Topic, &r.Audit,
			pq.Array(&r.Addresses), &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		r.Payload = payload
		out = append(out, r)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ Store = (*PostgresStore)(nil)
