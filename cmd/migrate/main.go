// Command migrate applies the adops schema and permission catalog seeds.
//
//	migrate [-dsn URL] [-timeout 30s] up|down|seed|status
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"adops.io/internal/migrate"
	"adops.io/internal/obs"
)

func main() {
	_ = godotenv.Load()
	var (
		dsn      = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		timeout  = flag.Duration("timeout", 30*time.Second, "overall timeout")
		logLevel = flag.String("log-level", os.Getenv("LOG_LEVEL"), "log level")
	)
	flag.Parse()

	logger, err := obs.NewLogger(*logLevel, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if *dsn == "" || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dsn URL] up|down|seed|status (DATABASE_URL is the default DSN)")
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *dsn, cmd, logger); err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}

func run(ctx context.Context, dsn, cmd string, logger *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db)
	switch cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Strings("names", applied))
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		logger.Info("migration reverted", zap.String("name", name))
	case "seed":
		seeded, err := mgr.Seed(ctx)
		if err != nil {
			return err
		}
		logger.Info("seeds applied", zap.Strings("names", seeded))
	case "status":
		hist, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, name := range hist {
			fmt.Println(name)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
