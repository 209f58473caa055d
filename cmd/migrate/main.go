package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	user := env.GetEnv("DB_USER", "billingsync")
	host := env.GetEnv("DB_HOST", "db")
	port := env.GetEnv("DB_PORT", "3306")
	name := env.GetEnv("DB_NAME", "billingsync")

	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		user,
		env.GetEnv("DB_PASSWORD", "billingsync"),
		host,
		port,
		name,
	)

	log.Printf("Connecting to database: %s@%s:%s/%s", user, host, port, name)

	m, err := migrate.New(env.GetEnv("MIGRATIONS_PATH", "file://migrations"), dbURL)
	if err != nil {
		log.Fatalf("Failed to initialise migrations: %v", err)
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Failed to close migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Failed to apply migrations: %v", err)
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No change: database is already up to date")
		} else {
			log.Println("Migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatalf("Failed to roll back the last migration: %v", err)
		}
		log.Println("Last migration rolled back")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatalf("A version number is required")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("Invalid version number: %v", err)
		}

		if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Failed to migrate to version %d: %v", version, err)
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("No change: database is already at version %d", version)
		} else {
			log.Printf("Migrated to version %d", version)
		}

	case "force":
		if len(os.Args) < 3 {
			log.Fatalf("A version number is required")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("Invalid version number: %v", err)
		}
		if err := m.Force(version); err != nil {
			log.Fatalf("Failed to force version %d: %v", version, err)
		}
		log.Printf("Forced version %d, dirty flag cleared", version)

	case "status":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("No migrations have been applied yet")
			} else {
				log.Fatalf("Failed to read migration version: %v", err)
			}
		} else {
			dirtyStatus := ""
			if dirty {
				dirtyStatus = " (dirty)"
			}
			log.Printf("Current migration version: %d%s", version, dirtyStatus)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up      - apply all pending migrations")
	fmt.Println("  down    - roll back the last migration")
	fmt.Println("  goto N  - migrate to version N")
	fmt.Println("  force N - set version N without running migrations")
	fmt.Println("  status  - show the current migration version")
}
