package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"payflow/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		slog.Error("payflow stopped with error", "error", err)
		cleanup()
		os.Exit(1)
	}
	slog.Info("payflow stopped")
}
