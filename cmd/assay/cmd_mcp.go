package main

import (
	"context"
	"log/slog"

	mcpserver "github.com/felixgeelhaar/assay/internal/mcp"
)

// cmdMCP serves the assay tools over stdio until ctx is cancelled
func cmdMCP(ctx context.Context) error {
	a, err := newApp(ctx, appOptions{exercises: true, history: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.NewServer(mcpserver.Config{
		Assessment: a.assessor,
		Registry:   a.registry,
		Version:    Version,
	})

	slog.Info("mcp server starting", "transport", "stdio", "exercises", a.registry.Stats().ExerciseCount)
	return srv.ServeStdio(ctx)
}
