package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/cassiomorais/chainpay/internal/infrastructure/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		direction string
		steps     int
		dbURL     string
		path      string
	)

	flag.StringVar(&direction, "direction", "up", "up, down, steps or version")
	flag.IntVar(&steps, "n", 1, "Number of migrations for -direction=steps (negative rolls back)")
	flag.StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL, defaults to the database config)")
	flag.StringVar(&path, "path", "internal/infrastructure/postgres/migrations", "Path to migration files")
	flag.Parse()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			fail("Failed to load config: %v", err)
		}
		dbURL = cfg.Database.DatabaseURL()
	}

	m, err := migrate.New("file://"+path, dbURL)
	if err != nil {
		fail("Failed to create migrate instance: %v", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if steps == 0 {
			fail("-n must not be zero")
		}
		err = m.Steps(steps)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied")
			return
		}
		if verr != nil {
			fail("Failed to read version: %v", verr)
		}
		fmt.Printf("Version %d (dirty=%t)\n", version, dirty)
		return
	default:
		fail("Unknown direction: %s (use up, down, steps or version)", direction)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fail("Migration %s failed: %v", direction, err)
	}
	fmt.Printf("Migrations %s applied successfully\n", direction)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
