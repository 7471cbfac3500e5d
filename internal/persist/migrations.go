package persist

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/ws2dgo/server/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations brings the journal schema up to date.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Info("database schema ready", zap.Int64("version", version))
	return nil
}

// OpenJournal connects to the database, migrates it and starts a Journal
// writing to it. ctx bounds the connect and migrate steps only. The returned
// close func stops the journal and the pool.
func OpenJournal(ctx context.Context, cfg config.DatabaseConfig, serverName string, log *zap.Logger) (*Journal, func(), error) {
	db, err := NewDB(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := RunMigrations(ctx, db.Pool, log); err != nil {
		db.Close()
		return nil, nil, err
	}
	j := NewJournal(NewEventsRepo(db, serverName), cfg.JournalQueue, log.Named("journal"))
	go j.Run(context.WithoutCancel(ctx))
	return j, func() {
		j.Close()
		db.Close()
	}, nil
}
