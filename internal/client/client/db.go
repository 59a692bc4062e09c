package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophsafe/internal/client/migrations"
	"github.com/pressly/goose/v3"
)

// busyTimeoutMs lets the manifest service and the certificate backend share
// the file without SQLITE_BUSY failures.
const busyTimeoutMs = 5000

// RunMigrations applies the embedded migrations and returns how many ran.
func RunMigrations(ctx context.Context, db *sql.DB) (int, error) {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := p.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to migrate local database: %w", err)
	}
	return len(results), nil
}

// DSN turns a database file path into a modernc sqlite DSN with the pragmas
// the client relies on.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, busyTimeoutMs)
}

// InitDatabase opens the local SQLite database file at path and migrates it.
func InitDatabase(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}

	if _, err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
