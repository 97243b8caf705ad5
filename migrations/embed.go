// Package migrations embeds the goose SQL migrations so the server, the
// migrate command and integration tests apply the same schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

// FS holds every *.sql migration.
//
//go:embed *.sql
var FS embed.FS

var setup sync.Once

func configure() error {
	var err error
	setup.Do(func() {
		goose.SetBaseFS(FS)
		err = goose.SetDialect("postgres")
	})
	return err
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB) error {
	if err := configure(); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Run executes a goose command (up, down, status, version, redo, up-to,
// down-to) against the embedded migrations.
func Run(ctx context.Context, command string, db *sql.DB, args ...string) error {
	if err := configure(); err != nil {
		return err
	}
	return goose.RunContext(ctx, command, db, ".", args...)
}

// Quiet silences goose's own logging (tests).
func Quiet() {
	goose.SetLogger(goose.NopLogger())
}
