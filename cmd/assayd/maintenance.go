package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/assay/internal/exercise"
)

const retentionInterval = 24 * time.Hour

type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

type purger interface {
	Purge(ctx context.Context) (int, error)
}

// runRetention prunes history once at startup and then every interval until
// ctx is done
func runRetention(ctx context.Context, p pruner, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		removed, err := p.Prune(ctx, retention)
		if err != nil {
			slog.Warn("history prune failed", "retention", retention, "error", err)
		} else if removed > 0 {
			slog.Info("history pruned", "removed", removed, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// watchHangup reloads exercise packs on SIGHUP
func watchHangup(ctx context.Context, registry *exercise.Registry, reports purger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			_ = reloadExercises(ctx, registry, reports)
		}
	}
}

// reloadExercises re-reads exercise packs and drops reports cached under the
// previous rules. A failed reload keeps the old packs.
func reloadExercises(ctx context.Context, registry *exercise.Registry, reports purger) error {
	if err := registry.Reload(); err != nil {
		slog.Error("exercise reload failed, keeping previous packs", "error", err)
		return err
	}
	stats := registry.Stats()
	slog.Info("exercises reloaded", "packs", stats.PackCount, "exercises", stats.ExerciseCount)

	if reports == nil {
		return nil
	}
	removed, err := reports.Purge(ctx)
	if err != nil {
		slog.Warn("report cache purge failed", "error", err)
		return nil
	}
	slog.Info("report cache purged", "removed", removed)
	return nil
}
