// Package main applies the embedded database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/archon-research/oracle-pusher/db"
	"github.com/archon-research/oracle-pusher/db/migrator"
	"github.com/archon-research/oracle-pusher/internal/adapters/outbound/postgres"
	"github.com/archon-research/oracle-pusher/internal/pkg/env"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func parseDatabaseURL(args []string) (string, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	url := *dbURL
	if url == "" {
		url = env.Get("DATABASE_URL", "")
	}
	if url == "" {
		return "", fmt.Errorf("database URL not provided (use -db flag or DATABASE_URL env var)")
	}
	return url, nil
}

func run(ctx context.Context, args []string) error {
	url, err := parseDatabaseURL(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))

	ctx, cancel := context.WithTimeout(ctx, env.GetDuration("MIGRATE_TIMEOUT", 5*time.Minute))
	defer cancel()

	dbConfig := postgres.DefaultDBConfig(url)
	dbConfig.MaxConns = 2
	dbConfig.StatementTimeout = 0
	pool, err := postgres.OpenPool(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	m := migrator.New(pool, db.Migrations(), logger)
	if err := m.ApplyAll(ctx); err != nil {
		return err
	}

	logger.Info("all migrations up to date")
	return nil
}
