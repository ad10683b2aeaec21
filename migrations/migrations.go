// Package migrations embeds the goose SQL migrations so binaries and tests
// can apply them without a checkout.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var FS embed.FS

const Dir = "sql"

// Up applies every pending migration
func Up(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, Dir); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}
