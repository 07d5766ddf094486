package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

//go:embed sql/*.sql
var files embed.FS

// MemoryDSN opens a private in-memory database. Callers must keep a single
// connection open (db.SetMaxOpenConns(1)) or each connection sees its own
// empty database.
const MemoryDSN = ":memory:"

// Open opens the SQLite database at path, creating the parent directory, and
// applies every pending migration.
func Open(path string, logger zerolog.Logger) (*sql.DB, error) {
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == MemoryDSN {
		db.SetMaxOpenConns(1)
	}

	if err := RunMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// RunMigrations applies all pending migrations embedded in the binary.
func RunMigrations(db *sql.DB, logger zerolog.Logger) error {
	source, err := iofs.New(files, "sql")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite3 driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	logger.Info().Msg("Running database migrations")
	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info().Msg("Database is already up to date")
	case err != nil:
		return fmt.Errorf("failed to apply migrations: %w", err)
	default:
		version, _, _ := m.Version()
		logger.Info().Uint("version", version).Msg("Database migrations applied successfully")
	}

	return nil
}
