// Package bootstrap opens the repository selected by configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/teamdash/internal/config"
	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/persistence/memory"
	"example.com/teamdash/internal/persistence/postgres"
	"example.com/teamdash/internal/persistence/sqlite"
	"example.com/teamdash/internal/platform/logger"
)

// Store bundles the opened repository with the resources it holds.
type Store struct {
	Repo domain.Repository
	// Pool is set only for the postgres driver; the outbox workers need it.
	Pool   *pgxpool.Pool
	Driver string

	closeFn func()
}

// Close releases the underlying connections.
func (s *Store) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// OpenStore connects to the configured store and applies its schema.
func OpenStore(ctx context.Context, cfg config.Config, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		log.Info("store opened", "driver", cfg.StoreDriver)
		return &Store{Repo: postgres.NewRepository(pool), Pool: pool, Driver: cfg.StoreDriver, closeFn: pool.Close}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.Info("store opened", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		return &Store{Repo: sqlite.NewRepository(db), Driver: cfg.StoreDriver, closeFn: func() { _ = db.Close() }}, nil

	case config.DriverMemory:
		log.Warn("using in-memory store; data is lost on exit")
		return &Store{Repo: memory.NewRepository(), Driver: cfg.StoreDriver}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// OpenPostgres connects a pool and runs the embedded migrations.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return pool, nil
}
