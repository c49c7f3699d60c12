// Command migrate applies the SQL migrations in migrations/ to DATABASE_URL.
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/caarlos0/env/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

type migrateConfig struct {
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:], logger); err != nil {
		logger.Error("migration failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(command string, args []string, logger *slog.Logger) error {
	_ = godotenv.Load()

	var cfg migrateConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("close migrate", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "goto":
		if len(args) < 1 {
			return errors.New("goto requires a version")
		}
		version, perr := strconv.ParseUint(args[0], 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], perr)
		}
		err = m.Migrate(uint(version))
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version")
		}
		version, perr := strconv.Atoi(args[0])
		if perr != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], perr)
		}
		err = m.Force(version)
	case "status":
		return logStatus(m, logger)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no change, database is up to date")
	case err != nil:
		return err
	default:
		logger.Info("migration applied", "command", command)
	}
	return logStatus(m, logger)
}

func logStatus(m *migrate.Migrate, logger *slog.Logger) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("no migrations applied yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	logger.Info("schema version", "version", version, "dirty", dirty)
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: migrate <command> [version]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  up        apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down      roll back the last migration")
	fmt.Fprintln(os.Stderr, "  goto N    migrate to version N")
	fmt.Fprintln(os.Stderr, "  force N   mark version N as clean without running it")
	fmt.Fprintln(os.Stderr, "  status    print the current version")
}
