package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	"github.com/leafsii/eusd-engine/internal/config"
	"github.com/leafsii/eusd-engine/migrations"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	flags = flag.NewFlagSet("migrate", flag.ExitOnError)
	dir   = flags.String("dir", "", "directory with migration files (default: embedded)")
)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		log.Fatal("Usage: migrate [-dir DIR] COMMAND\n\nCommands:\n  up\n  down\n  status")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.PostgresDSN == "" {
		log.Fatal("EUSD_POSTGRES_DSN is not set")
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	migrationDir := *dir
	if migrationDir == "" {
		goose.SetBaseFS(migrations.FS)
		migrationDir = migrations.Dir
	}

	command := args[0]
	switch command {
	case "up":
		if err := goose.Up(db, migrationDir); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
	case "down":
		if err := goose.Down(db, migrationDir); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
	case "status":
		if err := goose.Status(db, migrationDir); err != nil {
			log.Fatalf("Migration status failed: %v", err)
		}
	default:
		log.Fatalf("Unknown command: %s", command)
	}
}
