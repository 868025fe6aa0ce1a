package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"garage/rescue/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	migrate "github.com/rubenv/sql-migrate"
)

// Connect sets up the database pool and optionally runs migrations.
func Connect(ctx context.Context, cfg config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database URL is empty")
	}

	if cfg.Database.RunMigrations {
		if _, err := Migrate(ctx, cfg, log, migrate.Up, 0); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.AppName
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ErrNoMigrations is returned when the migrations directory holds no migration files.
var ErrNoMigrations = errors.New("no migrations found")

// LoadMigrations reads the migration files of dir ordered by id.
func LoadMigrations(dir string) ([]*migrate.Migration, error) {
	migrations, err := (&migrate.FileMigrationSource{Dir: dir}).FindMigrations()
	if err != nil {
		return nil, fmt.Errorf("reading migrations from %s: %w", dir, err)
	}
	if len(migrations) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoMigrations, dir)
	}
	return migrations, nil
}

// Migrate applies (or with migrate.Down, reverts) at most max migrations from the configured
// directory. max == 0 means all of them. The files are read before connecting so a wrong
// directory fails without touching the database.
func Migrate(ctx context.Context, cfg config.Config, log zerolog.Logger, dir migrate.MigrationDirection, max int) (int, error) {
	if max < 0 {
		return 0, fmt.Errorf("migration step count must not be negative, got %d", max)
	}
	migrations, err := LoadMigrations(cfg.Database.MigrationsDir)
	if err != nil {
		return 0, err
	}

	dbConn, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return 0, fmt.Errorf("opening sql connection: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("ping database: %w", err)
	}

	source := &migrate.MemoryMigrationSource{Migrations: migrations}
	n, err := migrate.ExecMaxContext(ctx, dbConn, "postgres", source, dir, max)
	if err != nil {
		return n, fmt.Errorf("migrating %s after %d applied: %w", directionName(dir), n, err)
	}
	log.Info().
		Int("applied", n).
		Int("available", len(migrations)).
		Str("direction", directionName(dir)).
		Msg("migrations executed")
	return n, nil
}

func directionName(dir migrate.MigrationDirection) string {
	if dir == migrate.Down {
		return "down"
	}
	return "up"
}
