package host

import (
	"database/sql"
)

// PostgresBackend persists committed state in PostgreSQL. The host_state
// table is created by the goose migrations under migrations/.
type PostgresBackend struct {
	sqlBackend
}

// NewPostgresBackend wraps an open PostgreSQL handle.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{sqlBackend{db: db, dialect: postgresDialect}}
}

var _ Backend = (*PostgresBackend)(nil)
