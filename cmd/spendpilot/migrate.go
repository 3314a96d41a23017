package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/SpendPilot/internal/adapter/postgres"
	"github.com/Strob0t/SpendPilot/internal/config"
)

// runMigrate dispatches migrate subcommands (up, down, version).
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Migrations applied.")
		return printVersion(ctx, cfg.Postgres.DSN)
	case "down":
		fs := flag.NewFlagSet("down", flag.ContinueOnError)
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *steps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s).\n", *steps)
		return printVersion(ctx, cfg.Postgres.DSN)
	case "version":
		return printVersion(ctx, cfg.Postgres.DSN)
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func printVersion(ctx context.Context, dsn string) error {
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Printf("schema version: %d\n", v)
	return nil
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: spendpilot migrate <command> [options]

Commands:
  up        Apply all pending migrations
  down      Roll back migrations (--steps N, default 1)
  version   Print the current schema version
  help      Show this help message

Examples:
  spendpilot migrate up
  spendpilot migrate down --steps 2
`)
}
