package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"payflow/internal/config"
	"payflow/internal/logging"
	"payflow/internal/repository"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run ./cmd/migrate [command] [args]")
		fmt.Println("Commands: up, down, status, redo, up-to VERSION, down-to VERSION")
		os.Exit(1)
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	log, syncLog := logging.New(cfg.IsProduction())
	defer func() { _ = syncLog() }()
	slog.SetDefault(log)

	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	log.Info("starting migration", "command", command)

	if err := repository.RunMigrations(ctx, cfg.DSN(), command, args[1:]...); err != nil {
		log.Error("migration failed", "command", command, "error", err)
		_ = syncLog()
		os.Exit(1)
	}

	log.Info("migration finished successfully", "command", command)
}
