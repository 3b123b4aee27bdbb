// Package migrations embeds the governance store's schema and applies it
// with pressly/goose/v3, one file per table, numbered in dependency order.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var FS embed.FS

// Up applies every pending migration against db.
func Up(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations.Up: set dialect: %w", err)
	}
	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("migrations.Up: %w", err)
	}
	return nil
}

// Status reports the current migration version without applying anything.
func Status(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations.Status: set dialect: %w", err)
	}
	if err := goose.Status(db, "sql"); err != nil {
		return fmt.Errorf("migrations.Status: %w", err)
	}
	return nil
}
