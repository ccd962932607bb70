// Command migrate applies the SQL migrations to the database in POSTGRES_DSN.
//
//	migrate [--seed] [--dir ./migrations] up|down|to <version>|version
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"ms-turnos/internal/config"
	"ms-turnos/internal/database"
	"ms-turnos/internal/database/migrations"
	"ms-turnos/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()
	cfg := config.Load()

	opts := migrations.MigrateOptions{
		MigrationsDir: cfg.Database.MigrationsDir,
		SeedData:      cfg.Database.SeedData,
	}
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&opts.MigrationsDir, "dir", opts.MigrationsDir, "directory holding the migration files")
	flagSet.BoolVar(&opts.SeedData, "seed", opts.SeedData, "include seed-data migrations when running up")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		return fmt.Errorf("missing command: up, down, to <version> or version")
	}

	log := logger.NewWithWriter("migrate", os.Stdout)
	db, err := database.Connect(context.Background(), cfg.Database, log)
	if err != nil {
		return err
	}

	runner := migrations.NewRunner(db, opts, log)
	// Closing the runner also closes db.
	defer runner.Close()

	switch rest[0] {
	case "up":
		if opts.SeedData {
			return runner.MigrateUp()
		}
		return runner.RunMigrations()
	case "down":
		return runner.MigrateDown()
	case "to":
		if len(rest) < 2 {
			return fmt.Errorf("to needs a version")
		}
		v, err := strconv.ParseUint(rest[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", rest[1], err)
		}
		return runner.MigrateTo(uint(v))
	case "version":
		v, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}
