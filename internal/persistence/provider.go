// Package persistence wires the orchestration core's durable stores
// (Checkpointer, MemoryStore runtime tier) onto a shared database
// connection pool, lazily constructing each store on first use.
package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/orcad/internal/checkpoint"
	"github.com/kandev/orcad/internal/common/config"
	"github.com/kandev/orcad/internal/common/logger"
	"github.com/kandev/orcad/internal/db"
	"github.com/kandev/orcad/internal/memory"

	"go.uber.org/zap"
)

// ProvidePool opens the writer/reader connection pool described by the
// database configuration section.
func ProvidePool(cfg *config.Config, log *logger.Logger) (*db.Pool, func() error, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pgDB, err := db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		sqlxDB := sqlx.NewDb(pgDB, "pgx")
		pool := db.NewPool(sqlxDB, sqlxDB)
		if log != nil {
			log.Info("Database initialized", zap.String("driver", "postgres"), zap.String("db_name", cfg.Database.DBName))
		}
		return pool, pool.Close, nil
	case "sqlite", "":
		writerDB, err := db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite writer: %w", err)
		}
		readerDB, err := db.OpenSQLiteReader(cfg.Database.Path)
		if err != nil {
			_ = writerDB.Close()
			return nil, nil, fmt.Errorf("open sqlite reader: %w", err)
		}
		pool := db.NewPool(sqlx.NewDb(writerDB, "sqlite3"), sqlx.NewDb(readerDB, "sqlite3"))
		if log != nil {
			log.Info("Database initialized", zap.String("driver", "sqlite"), zap.String("db_path", cfg.Database.Path))
		}
		cleanup := func() error {
			// Update query planner statistics before closing.
			_, _ = pool.Writer().Exec("PRAGMA optimize")
			return pool.Close()
		}
		return pool, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// Provider lazily constructs the durable stores backed by one shared pool.
type Provider struct {
	pool *db.Pool

	checkpoints checkpoint.Store
	runtimeMem  memory.RuntimeStore
}

// NewProvider wraps an already-open pool.
func NewProvider(pool *db.Pool) *Provider {
	return &Provider{pool: pool}
}

// Checkpoints returns the SQL-backed checkpoint store, migrating its table
// on first use.
func (p *Provider) Checkpoints() (checkpoint.Store, error) {
	if p.checkpoints != nil {
		return p.checkpoints, nil
	}
	store := checkpoint.NewSQLStore(p.pool)
	if err := store.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate checkpoints: %w", err)
	}
	p.checkpoints = store
	return store, nil
}

// RuntimeMemory returns the SQL-backed runtime memory tier, migrating its
// table on first use.
func (p *Provider) RuntimeMemory() (memory.RuntimeStore, error) {
	if p.runtimeMem != nil {
		return p.runtimeMem, nil
	}
	store := memory.NewSQLRuntimeStore(p.pool)
	if err := store.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate runtime memory: %w", err)
	}
	p.runtimeMem = store
	return store, nil
}

// Close releases the underlying pool.
func (p *Provider) Close() error {
	return p.pool.Close()
}
