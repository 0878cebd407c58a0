package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and configures a storage backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	// Migrate applies pending migrations before returning.
	Migrate bool
	// ConnectAttempts bounds the postgres connect loop; 0 means 10.
	ConnectAttempts int
	RetryInterval   time.Duration
}

// Open returns the repository for opts.Driver and a function releasing its
// resources.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (Repository, func() error, error) {
	noop := func() error { return nil }
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryRepository(), noop, nil
	case DriverPostgres:
		db, err := connectPostgres(ctx, opts, logger)
		if err != nil {
			return nil, noop, err
		}
		if opts.Migrate {
			if _, err := Migrate(opts); err != nil {
				db.Close()
				return nil, noop, err
			}
		}
		return NewPostgresRepository(db), db.Close, nil
	case DriverSQLite:
		if err := ensureDir(opts.SQLitePath); err != nil {
			return nil, noop, err
		}
		db, err := sql.Open("sqlite", opts.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		// a single writer avoids SQLITE_BUSY on concurrent saves
		db.SetMaxOpenConns(1)
		if opts.Migrate {
			if _, err := Migrate(opts); err != nil {
				db.Close()
				return nil, noop, err
			}
		}
		logger.Info().Str("path", opts.SQLitePath).Msg("opened sqlite store")
		return NewSQLiteRepository(db), db.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

func connectPostgres(ctx context.Context, opts Options, logger zerolog.Logger) (*sql.DB, error) {
	if opts.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}
	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 10
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		db, err := sql.Open("postgres", opts.DatabaseURL)
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				logger.Info().Msg("connected to database")
				return db, nil
			}
			db.Close()
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", i+1).Int("of", attempts).Msg("waiting for database")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, lastErr)
}

func ensureDir(path string) error {
	if path == "" {
		return fmt.Errorf("sqlite path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create dirs: %w", err)
	}
	return nil
}
