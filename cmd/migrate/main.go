package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/migrate"
)

const usage = "up|down|status|to|create|validate"

func main() {
	_ = godotenv.Load()

	command := flag.String("cmd", "up", "migration command: "+usage)
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	name := flag.String("name", "", "migration name for -cmd=create")
	target := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "chatdesk-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *command})

	if err := run(ctx, cfg, logg, *command, *dir, *name, *target); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, command, dir, name, target string) error {
	switch command {
	case "create":
		if name == "" {
			return fmt.Errorf("-name is required for create")
		}
		outDir := dir
		if outDir == "" {
			outDir = migrate.SourceDir
		}
		path, err := migrate.Create(outDir, name, time.Now())
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return nil
	case "validate":
		if err := migrate.Validate(migrate.Source(dir)); err != nil {
			return err
		}
		logg.Info(ctx, "migrations valid")
		return nil
	case "up", "down", "status", "to":
	default:
		return fmt.Errorf("unknown -cmd %q (want %s)", command, usage)
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	runner, err := migrate.NewRunner(sqlDB, migrate.Source(dir))
	if err != nil {
		return err
	}

	var applied []migrate.Applied
	switch command {
	case "up":
		applied, err = runner.Up(ctx)
	case "down":
		applied, err = runner.Down(ctx)
	case "to":
		if target == "" {
			return fmt.Errorf("-version is required for to")
		}
		applied, err = runner.To(ctx, target)
	case "status":
		return printStatus(ctx, runner)
	}

	for _, a := range applied {
		fmt.Printf("%-6s %d %s (%s)\n", a.Direction, a.Version, a.Path, a.Duration.Round(time.Millisecond))
	}
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "migrate complete")
	return nil
}

func printStatus(ctx context.Context, runner *migrate.Runner) error {
	rows, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		state := "pending"
		if row.Applied {
			state = "applied " + row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Printf("%d %-50s %s\n", row.Version, row.Path, state)
	}
	return nil
}
