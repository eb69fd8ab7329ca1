package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateRedo    = "redo"
	MigrateStatus  = "status"
	MigrateVersion = "version"
)

const defaultMigrateTimeout = 60 * time.Second

type MigrateOptions struct {
	Command string
	// Timeout bounds the whole run; zero means one minute.
	Timeout time.Duration
}

// Migrate applies the embedded users and ledger_entries schema to the database at dsn.
func Migrate(ctx context.Context, dsn string, opts MigrateOptions) error {
	if err := validateMigrateCommand(opts.Command); err != nil {
		return err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultMigrateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sql open: %w", err)
	}
	defer func() { _ = db.Close() }()

	fsys, err := migrationsFS()
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	slog.Info("running migrations", "command", opts.Command)

	switch opts.Command {
	case MigrateUp:
		results, err := provider.Up(ctx)
		for _, r := range results {
			slog.Info("migration applied", "version", r.Source.Version, "duration", r.Duration)
		}
		if err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
	case MigrateDown:
		r, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
		slog.Info("migration rolled back", "version", r.Source.Version)
	case MigrateRedo:
		if _, err := provider.Down(ctx); err != nil {
			return fmt.Errorf("goose redo: down: %w", err)
		}
		r, err := provider.UpByOne(ctx)
		if err != nil {
			return fmt.Errorf("goose redo: up: %w", err)
		}
		slog.Info("migration reapplied", "version", r.Source.Version)
	case MigrateStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		for _, s := range statuses {
			slog.Info("migration status", "version", s.Source.Version, "state", s.State, "applied_at", s.AppliedAt)
		}
	case MigrateVersion:
		v, err := provider.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("goose version: %w", err)
		}
		slog.Info("database version", "version", v)
	}

	return nil
}

func validateMigrateCommand(command string) error {
	switch command {
	case MigrateUp, MigrateDown, MigrateRedo, MigrateStatus, MigrateVersion:
		return nil
	}
	return fmt.Errorf("unknown migration command %q", command)
}

func migrationsFS() (fs.FS, error) {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	return fsys, nil
}
