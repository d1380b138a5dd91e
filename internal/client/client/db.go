package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/docsync/internal/client/migrations"

	_ "modernc.org/sqlite"
)

// InitDatabase opens the SQLite database at dsn and applies migrations.
// The connection pool is limited to one connection: SQLite serializes
// writers anyway and ":memory:" databases are per connection.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
