// Package repomanager binds the server repositories to one database handle
// and owns the schema migrations.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/docsync/internal/dbx"
	"github.com/dmitrijs2005/docsync/internal/server/migrations"
	"github.com/dmitrijs2005/docsync/internal/server/repositories/documents"
	"github.com/dmitrijs2005/docsync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/docsync/internal/server/repositories/users"
)

type migrateFunc func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error

// Postgres vends the PostgreSQL repositories.
type Postgres struct {
	up migrateFunc
}

func NewPostgresRepositoryManager() RepositoryManager {
	return &Postgres{up: goose.UpContext}
}

func (m *Postgres) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *Postgres) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

func (m *Postgres) Documents(db dbx.DBTX) documents.Repository {
	return documents.NewPostgresRepository(db)
}

// RunMigrations applies every embedded migration not yet recorded in the
// goose version table.
func (m *Postgres) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := m.up(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
