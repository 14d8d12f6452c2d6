// Package repomanager vends repositories bound to a database handle or an
// open transaction and owns schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tryitout/internal/dbx"
	"github.com/dmitrijs2005/tryitout/internal/server/migrations"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/usage"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/users"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/webhooks"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// RepositoryManager is what services depend on. Passing a *sql.Tx as the
// DBTX makes every vended repository take part in that transaction.
type RepositoryManager interface {
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Usage(db dbx.DBTX) usage.Repository
	Webhooks(db dbx.DBTX) webhooks.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}

type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Usage(db dbx.DBTX) usage.Repository {
	return usage.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Webhooks(db dbx.DBTX) webhooks.Repository {
	return webhooks.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// Open opens a pgx-backed *sql.DB and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
