package storage

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func migrationURL(opts Options) (string, error) {
	switch opts.Driver {
	case DriverPostgres:
		return opts.DatabaseURL, nil
	case DriverSQLite:
		return "sqlite://" + opts.SQLitePath, nil
	default:
		return "", fmt.Errorf("driver %q has no migrations", opts.Driver)
	}
}

func newMigrator(opts Options) (*migrate.Migrate, error) {
	dbURL, err := migrationURL(opts)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("migration init: %w", err)
	}
	return m, nil
}

// Migrate applies pending migrations and returns the resulting schema
// version.
func Migrate(opts Options) (uint, error) {
	if opts.Driver == DriverSQLite {
		if err := ensureDir(opts.SQLitePath); err != nil {
			return 0, err
		}
	}
	m, err := newMigrator(opts)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migration up: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	return version, nil
}

// MigrationVersion reports the applied schema version. A database with no
// migrations applied reports version 0.
func MigrationVersion(opts Options) (uint, bool, error) {
	m, err := newMigrator(opts)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return version, dirty, nil
}
