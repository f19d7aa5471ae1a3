package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/stocktransfer/internal/identity"
	"github.com/odyssey-erp/stocktransfer/internal/inventory"
	"github.com/odyssey-erp/stocktransfer/internal/platform/db"
	"github.com/odyssey-erp/stocktransfer/internal/shared"
	"github.com/odyssey-erp/stocktransfer/internal/store/sqlite"
	"github.com/odyssey-erp/stocktransfer/internal/transfer"
)

// Backend bundles the repositories of the configured store driver.
type Backend struct {
	Transfers transfer.Repository
	Stock     inventory.RepositoryPort
	Directory identity.Source
	Audit     inventory.AuditPort
	Ready     func(ctx context.Context) error
	close     func()
}

// Close releases the underlying connections.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// OpenBackend connects to the store selected by cfg.StoreDriver and makes
// sure its schema exists.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("store ready", slog.String("driver", cfg.StoreDriver))
		return &Backend{
			Transfers: transfer.NewRepository(pool),
			Stock:     inventory.NewRepository(pool),
			Directory: identity.NewDirectory(pool),
			Audit:     shared.NewAuditLogger(pool),
			Ready:     pool.Ping,
			close:     pool.Close,
		}, nil
	case StoreSQLite:
		conn, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.EnsureSchema(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		logger.Info("store ready", slog.String("driver", cfg.StoreDriver), slog.String("path", cfg.SQLitePath))
		return &Backend{
			Transfers: sqlite.NewTransferRepository(conn),
			Stock:     sqlite.NewInventoryRepository(conn),
			Directory: sqlite.NewDirectory(conn),
			Audit:     sqlite.NewAuditLogger(conn),
			Ready:     conn.PingContext,
			close: func() {
				if err := conn.Close(); err != nil {
					logger.Warn("sqlite close", slog.Any("error", err))
				}
			},
		}, nil
	}
	return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
}
