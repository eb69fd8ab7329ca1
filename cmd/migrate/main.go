package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"promptmeter/internal/config"
	"promptmeter/internal/repository"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "abort the migration after this long")
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run ./cmd/migrate [command]")
		fmt.Println("Commands: up, down, redo, status, version")
		os.Exit(1)
	}

	cfg, err := config.New()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	if !cfg.NeedsPostgres() {
		slog.Error("migrations need postgres: set PROMPTMETER_LEDGER_PROVIDER=postgres or PROMPTMETER_BUS_PROVIDER=nats")
		os.Exit(1)
	}

	command := args[0]
	slog.Info("starting migration", "command", command)

	opts := repository.MigrateOptions{Command: command, Timeout: *timeout}
	if err := repository.Migrate(context.Background(), cfg.DSN(), opts); err != nil {
		slog.Error("migration error", "error", err)
		os.Exit(1)
	}

	fmt.Println("Migration finished successfully")
}
