// Package storage opens the history backend selected in configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/assay/internal/config"
	"github.com/felixgeelhaar/assay/internal/history"
	"github.com/felixgeelhaar/assay/internal/storage/local"
	"github.com/felixgeelhaar/assay/internal/storage/postgres"
	"github.com/felixgeelhaar/assay/internal/storage/sqlite"
)

// Backend bundles the opened history store with its optional event log
type Backend struct {
	Store  history.Store
	Events history.EventRecorder
	Driver string

	closers []func() error
}

// Close releases the store and any underlying connection
func (b *Backend) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Prune drops history and analytics entries older than olderThan from every
// part of the backend that supports it.
func (b *Backend) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if b == nil {
		return 0, nil
	}

	var (
		total int64
		errs  []error
	)
	for _, part := range []any{b.Store, b.Events} {
		p, ok := part.(history.Pruner)
		if !ok {
			continue
		}
		n, err := p.Prune(ctx, olderThan)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Open returns the backend for cfg.Driver. The none driver yields a backend
// with a nil Store.
func Open(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	b := &Backend{Driver: cfg.Driver}

	switch cfg.Driver {
	case config.DriverSQLite:
		path, err := config.ResolvePath(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		db, err := sqlite.OpenMigrated(ctx, path)
		if err != nil {
			return nil, err
		}
		b.Store = sqlite.NewAssessmentStore(db)
		b.Events = sqlite.NewAnalyticsStore(db)
		b.closers = append(b.closers, db.Close)
		slog.Info("history store opened", "driver", cfg.Driver, "path", path)

	case config.DriverPostgres:
		store, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			return nil, err
		}
		b.Store = store
		b.closers = append(b.closers, store.Close)
		slog.Info("history store opened", "driver", cfg.Driver, "table", store.Table())

	case config.DriverFile:
		path, err := config.ResolvePath(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		store, err := local.NewHistoryStore(path)
		if err != nil {
			return nil, err
		}
		b.Store = store
		b.closers = append(b.closers, store.Close)
		slog.Info("history store opened", "driver", cfg.Driver, "path", path)

	case config.DriverNone, "":
		b.Driver = config.DriverNone
		slog.Debug("history disabled")

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	return b, nil
}
